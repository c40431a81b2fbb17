package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"consensus-engine/internal/raft"
)

const (
	// RPCTimeout is the maximum time to wait for a single RPC attempt.
	// Section 5.6 states that broadcast time should be an order of magnitude
	// less than the election timeout (150-300ms), so 50ms leaves a
	// comfortable safety margin.
	RPCTimeout = 50 * time.Millisecond

	// MaxRequestVoteRetries bounds retries of a failed RequestVote RPC.
	// Retries must fit inside the election timeout window; a failed election
	// simply restarts at a new term.
	MaxRequestVoteRetries = 3

	// RetryBackoffBase is the base duration for backoff between retries.
	RetryBackoffBase = 10 * time.Millisecond

	// MaxRetryBackoff caps the backoff between retries.
	MaxRetryBackoff = 100 * time.Millisecond
)

// Transport maintains gRPC client connections to every peer of a node and
// issues the consensus RPCs over them. A failed AppendEntries is not retried
// here: the leader's next replication cycle is the retry loop (Section 5.3).
type Transport struct {
	// The id of the server this transport belongs to, stamped onto outbound
	// calls.
	localID raft.ServerID
	// Connection pool, a map[raft.ServerID]*grpc.ClientConn. sync.Map is
	// optimized for the read-mostly access pattern here.
	conns *sync.Map
	// Optional metrics collector.
	metrics raft.Collector
}

// NewTransport creates a transport and dials every peer through the raft
// name-resolver scheme. Peer addresses must be registered with
// RegisterResolverPeer before the connections carry traffic.
func NewTransport(localID raft.ServerID, peerIDs []raft.ServerID, metrics raft.Collector) *Transport {
	t := &Transport{
		localID: localID,
		conns:   &sync.Map{},
		metrics: metrics,
	}
	for _, id := range peerIDs {
		target := fmt.Sprintf("%s:///%s", raftScheme, id)
		conn, err := grpc.NewClient(target,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		)
		if err != nil {
			// One unreachable peer must not prevent connections to the rest.
			log.Printf("[TRANSPORT] failed to create gRPC channel to peer %v: %v", id, err)
			continue
		}
		t.conns.Store(id, conn)
	}
	return t
}

// Peer returns the raft.Peer facade for one remote member. The facade is
// stateless and safe for concurrent use from replication fan-out goroutines.
func (t *Transport) Peer(id raft.ServerID) raft.Peer {
	return &grpcPeer{id: id, transport: t}
}

// AppendEntries issues a single AppendEntries attempt to the peer.
func (t *Transport) AppendEntries(ctx context.Context, peerID raft.ServerID, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	if t.metrics != nil {
		if len(req.Entries) == 0 {
			t.metrics.RecordHeartbeat()
		} else {
			t.metrics.RecordAppendEntries()
		}
	}

	conn, err := t.conn(peerID)
	if err != nil {
		return nil, err
	}

	ctx = outgoingMetadata(WithCallerID(ctx, t.localID))
	rpcCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
	defer cancel()

	resp := new(raft.AppendEntriesResponse)
	if err := conn.Invoke(rpcCtx, "/"+serviceName+"/AppendEntries", req, resp); err != nil {
		return nil, fmt.Errorf("AppendEntries to %s failed: %w", peerID, err)
	}
	return resp, nil
}

// RequestVote issues a RequestVote to the peer, retrying a few times with
// capped backoff inside the election timeout window.
func (t *Transport) RequestVote(ctx context.Context, peerID raft.ServerID, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	if t.metrics != nil {
		t.metrics.RecordRequestVote()
	}

	conn, err := t.conn(peerID)
	if err != nil {
		return nil, err
	}

	ctx = outgoingMetadata(WithCallerID(ctx, t.localID))

	var lastErr error
	for attempt := 0; attempt < MaxRequestVoteRetries; attempt++ {
		rpcCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
		resp := new(raft.RequestVoteResponse)
		lastErr = conn.Invoke(rpcCtx, "/"+serviceName+"/RequestVote", req, resp)
		cancel()

		if lastErr == nil {
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("RequestVote to %s cancelled: %w", peerID, ctx.Err())
		default:
		}

		if attempt < MaxRequestVoteRetries-1 {
			backoff := RetryBackoffBase * time.Duration(attempt+1)
			if backoff > MaxRetryBackoff {
				backoff = MaxRetryBackoff
			}
			time.Sleep(backoff)
		}
	}
	return nil, fmt.Errorf("RequestVote to %s failed after %d attempts: %w", peerID, MaxRequestVoteRetries, lastErr)
}

// Submit forwards a client command to the given server.
func (t *Transport) Submit(ctx context.Context, peerID raft.ServerID, req *SubmitRequest) (*SubmitResponse, error) {
	conn, err := t.conn(peerID)
	if err != nil {
		return nil, err
	}

	resp := new(SubmitResponse)
	if err := conn.Invoke(outgoingMetadata(ctx), "/"+serviceName+"/Submit", req, resp); err != nil {
		return nil, fmt.Errorf("Submit to %s failed: %w", peerID, err)
	}
	return resp, nil
}

// CloseAll closes every client connection this transport opened.
func (t *Transport) CloseAll() {
	t.conns.Range(func(key, value any) bool {
		if conn, ok := value.(*grpc.ClientConn); ok {
			if err := conn.Close(); err != nil {
				log.Printf("[TRANSPORT] failed to close connection to %s: %v", key, err)
			}
		}
		return true
	})
}

func (t *Transport) conn(peerID raft.ServerID) (*grpc.ClientConn, error) {
	value, ok := t.conns.Load(peerID)
	if !ok {
		return nil, fmt.Errorf("no gRPC connection for peer %v", peerID)
	}
	conn, ok := value.(*grpc.ClientConn)
	if !ok {
		return nil, fmt.Errorf("invalid connection type for peer %v: %T", peerID, value)
	}
	return conn, nil
}

// grpcPeer adapts the transport to the synchronous raft.Peer contract.
type grpcPeer struct {
	id        raft.ServerID
	transport *Transport
}

func (p *grpcPeer) ID() raft.ServerID { return p.id }

func (p *grpcPeer) AppendEntries(req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	return p.transport.AppendEntries(context.Background(), p.id, req)
}

func (p *grpcPeer) RequestVote(req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	return p.transport.RequestVote(context.Background(), p.id, req)
}
