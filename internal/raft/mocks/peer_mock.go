package mocks

import (
	"sync"

	"consensus-engine/internal/raft"
)

// MockPeer is a scriptable implementation of raft.Peer for testing. Responses
// and errors are set per RPC; every received request is recorded for
// assertions.
type MockPeer struct {
	mu sync.Mutex

	PeerID raft.ServerID

	// Scripted responses. When the response func is set it wins; otherwise the
	// fixed response/error pair is returned.
	AppendEntriesResponse *raft.AppendEntriesResponse
	AppendEntriesError    error
	AppendEntriesFunc     func(req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)

	RequestVoteResponse *raft.RequestVoteResponse
	RequestVoteError    error
	RequestVoteFunc     func(req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error)

	// Recorded requests, in arrival order.
	AppendEntriesRequests []*raft.AppendEntriesRequest
	RequestVoteRequests   []*raft.RequestVoteRequest
}

// NewMockPeer creates a mock peer that grants votes and accepts entries until
// scripted otherwise.
func NewMockPeer(id raft.ServerID) *MockPeer {
	return &MockPeer{PeerID: id}
}

func (m *MockPeer) ID() raft.ServerID { return m.PeerID }

func (m *MockPeer) AppendEntries(req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	m.mu.Lock()
	m.AppendEntriesRequests = append(m.AppendEntriesRequests, req)
	fn := m.AppendEntriesFunc
	resp, err := m.AppendEntriesResponse, m.AppendEntriesError
	m.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return &raft.AppendEntriesResponse{Term: req.Term, Success: true}, nil
}

func (m *MockPeer) RequestVote(req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	m.mu.Lock()
	m.RequestVoteRequests = append(m.RequestVoteRequests, req)
	fn := m.RequestVoteFunc
	resp, err := m.RequestVoteResponse, m.RequestVoteError
	m.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return &raft.RequestVoteResponse{Term: req.Term, VoteGranted: true}, nil
}

// AppendEntriesCallCount returns how many AppendEntries RPCs arrived.
func (m *MockPeer) AppendEntriesCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AppendEntriesRequests)
}

// RequestVoteCallCount returns how many RequestVote RPCs arrived.
func (m *MockPeer) RequestVoteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RequestVoteRequests)
}

// LastAppendEntries returns the most recent AppendEntries request, nil when
// none arrived yet.
func (m *MockPeer) LastAppendEntries() *raft.AppendEntriesRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.AppendEntriesRequests) == 0 {
		return nil
	}
	return m.AppendEntriesRequests[len(m.AppendEntriesRequests)-1]
}
