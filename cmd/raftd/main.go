package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"consensus-engine/internal/pubsub"
	"consensus-engine/internal/raft"
	"consensus-engine/internal/raft/config"
	"consensus-engine/internal/raft/metrics"
	"consensus-engine/internal/raft/statemachine"
	"consensus-engine/internal/raft/storage"
	"consensus-engine/internal/raft/transport"
)

func main() {
	configPath := flag.String("config", "raftd.yaml", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	id := raft.ServerID(cfg.ID)
	if id == "" {
		id = raft.ServerID(uuid.New().String())
		log.Printf("No server id configured, generated %s", id)
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory %s: %v", dataDir, err)
	}

	logStore, err := storage.NewBboltLog(filepath.Join(dataDir, fmt.Sprintf("raft-%s.db", id)))
	if err != nil {
		log.Fatalf("Failed to open log storage: %v", err)
	}

	collector := metrics.NewMetrics()
	bus := pubsub.NewBus()
	kv := statemachine.NewKVStore(string(id))

	// Peer addresses feed the raft:/// name-resolver scheme; the transport
	// dials ids, not addresses.
	peerIDs := make([]raft.ServerID, 0, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		transport.RegisterResolverPeer(raft.ServerID(peer.ID), raft.ServerAddress(peer.Address))
		peerIDs = append(peerIDs, raft.ServerID(peer.ID))
	}
	trans := transport.NewTransport(id, peerIDs, collector)

	peers := make([]raft.Peer, 0, len(peerIDs))
	for _, peerID := range peerIDs {
		peers = append(peers, trans.Peer(peerID))
	}

	node, err := raft.NewNode(id, logStore, kv, peers, bus, collector, cfg.Options())
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	server := transport.NewServer(node)
	addr, err := server.Start(cfg.ListenAddr)
	if err != nil {
		log.Fatalf("Failed to start transport server: %v", err)
	}
	log.Printf("[SERVER-%s] listening on %s", id, addr)

	watchEvents(bus, id)

	node.Start()
	log.Printf("[SERVER-%s] started as %s", id, node.Role())

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()

	log.Println("Shutting down...")
	node.Shutdown()
	server.GracefulStop()
	trans.CloseAll()
	bus.Shutdown()
	if err := logStore.Close(); err != nil {
		log.Printf("Failed to close log storage: %v", err)
	}

	report := collector.GetReport(len(cfg.Peers) + 1)
	log.Printf("Committed %d commands at %.2f cmd/sec over %d elections",
		report.CommandsCommitted, report.ThroughputCmdSec, report.ElectionCount)
	log.Println("Server stopped")
}

// watchEvents logs role transitions and commits as they are announced on the
// node's event bus.
func watchEvents(bus *pubsub.Bus, id raft.ServerID) {
	roleCh := make(chan *pubsub.Event[raft.RoleChangedPayload], 16)
	pubsub.Subscribe(bus, raft.RoleChanged, roleCh, pubsub.SubscriptionOptions{})
	go func() {
		for event := range roleCh {
			log.Printf("[SERVER-%s] [TERM-%d] now acting as %s", id, event.Payload.Term, event.Payload.To)
		}
	}()

	commitCh := make(chan *pubsub.Event[raft.CommandCommittedPayload], 64)
	pubsub.Subscribe(bus, raft.CommandCommitted, commitCh, pubsub.SubscriptionOptions{})
	go func() {
		for event := range commitCh {
			log.Printf("[SERVER-%s] committed entry %d (term %d)", id, event.Payload.Index, event.Payload.Term)
		}
	}()
}
