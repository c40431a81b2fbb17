package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"consensus-engine/internal/raft"
	"consensus-engine/internal/raft/transport"
)

func main() {
	server := flag.String("server", "localhost:50051", "Address of the server to submit to")
	timeout := flag.Duration("timeout", 15*time.Second, "How long to wait for the command to commit")
	flag.Parse()

	command := strings.Join(flag.Args(), " ")
	if command == "" {
		fmt.Fprintln(os.Stderr, "usage: raftctl [-server addr] <command>")
		fmt.Fprintln(os.Stderr, `example: raftctl -server localhost:50051 SET color=blue`)
		os.Exit(2)
	}

	// The transport dials by server id; register the target under a synthetic
	// id so the resolver can find it.
	targetID := raft.ServerID("target")
	transport.RegisterResolverPeer(targetID, raft.ServerAddress(*server))

	clientID := raft.ServerID("raftctl-" + uuid.New().String()[:8])
	trans := transport.NewTransport(clientID, []raft.ServerID{targetID}, nil)
	defer trans.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := trans.Submit(ctx, targetID, &transport.SubmitRequest{Command: []byte(command)})
	if err != nil {
		log.Fatalf("Submit failed: %v", err)
	}

	switch {
	case resp.Applied:
		fmt.Println("OK")
	case resp.NotLeader:
		log.Fatalf("%s is not the leader, try another server (%s)", *server, resp.Error)
	default:
		log.Fatalf("Command rejected: %s", resp.Error)
	}
}
