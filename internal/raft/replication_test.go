package raft_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-engine/internal/raft"
	"consensus-engine/internal/raft/mocks"
)

func TestLeader_SendsHeartbeats(t *testing.T) {
	peer1 := mocks.NewMockPeer("server-2")
	peer2 := mocks.NewMockPeer("server-3")
	node, _, _ := newTestNode(t, []raft.Peer{peer1, peer2}, quietOpts())

	node.Start()
	node.BecomeLeader()

	require.Eventually(t, func() bool {
		return peer1.AppendEntriesCallCount() >= 2 && peer2.AppendEntriesCallCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	// With an empty log the cycle is a pure heartbeat.
	req := peer1.LastAppendEntries()
	require.NotNil(t, req)
	assert.Empty(t, req.Entries)
	assert.Equal(t, uint64(0), req.PrevLogIndex)
	assert.Equal(t, node.ID(), req.LeaderID)
}

func TestLeader_AcceptReplicatesAndApplies(t *testing.T) {
	peer1 := mocks.NewMockPeer("server-2")
	peer2 := mocks.NewMockPeer("server-3")
	node, _, sm := newTestNode(t, []raft.Peer{peer1, peer2}, quietOpts())

	node.Start()
	node.BecomeLeader()

	require.NoError(t, node.Accept([]byte("SET color=blue")))

	st := node.CurrentState()
	assert.Equal(t, uint64(1), st.CommitIndex)
	assert.Equal(t, uint64(1), st.LastApplied)

	applied := sm.GetAppliedEntries()
	require.Len(t, applied, 1)
	assert.Equal(t, []byte("SET color=blue"), applied[0].Command)

	// The entry reached the peers with the leader's term.
	require.Eventually(t, func() bool {
		req := peer1.LastAppendEntries()
		return req != nil && req.LeaderCommit >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLeader_AcceptTimesOutWithoutQuorum(t *testing.T) {
	unreachable1 := mocks.NewMockPeer("server-2")
	unreachable1.AppendEntriesError = assert.AnError
	unreachable2 := mocks.NewMockPeer("server-3")
	unreachable2.AppendEntriesError = assert.AnError

	opts := quietOpts()
	opts.AcceptTimeout = 100 * time.Millisecond
	node, _, sm := newTestNode(t, []raft.Peer{unreachable1, unreachable2}, opts)

	node.Start()
	node.BecomeLeader()

	err := node.Accept([]byte("SET color=blue"))
	assert.ErrorIs(t, err, raft.ErrAcceptTimeout)

	// The entry is in the log but never committed or applied.
	assert.Equal(t, uint64(0), node.CurrentState().CommitIndex)
	assert.Zero(t, sm.ApplyCallCount)
}

func TestLeader_AcceptFailsWhenLeadershipIsLost(t *testing.T) {
	unreachable1 := mocks.NewMockPeer("server-2")
	unreachable1.AppendEntriesError = assert.AnError
	unreachable2 := mocks.NewMockPeer("server-3")
	unreachable2.AppendEntriesError = assert.AnError

	opts := quietOpts()
	opts.AcceptTimeout = -1 // wait forever
	node, _, _ := newTestNode(t, []raft.Peer{unreachable1, unreachable2}, opts)

	node.Start()
	node.BecomeLeader()

	done := make(chan error, 1)
	go func() {
		done <- node.Accept([]byte("SET color=blue"))
	}()

	// Give the Accept a moment to start waiting, then depose the leader.
	time.Sleep(50 * time.Millisecond)
	node.BecomeFollower(node.CurrentState())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, raft.ErrLeadershipLost)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after leadership was lost")
	}
}

func TestLeader_StepsDownOnGreaterTermInResponse(t *testing.T) {
	ahead := mocks.NewMockPeer("server-2")
	ahead.AppendEntriesResponse = &raft.AppendEntriesResponse{Term: 50, Success: false}

	node, _, _ := newTestNode(t, []raft.Peer{ahead, mocks.NewMockPeer("server-3")}, quietOpts())
	node.Start()
	node.BecomeLeader()

	require.Eventually(t, func() bool {
		return node.Role() == raft.Follower
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(50), node.CurrentState().CurrentTerm)
}

func TestLeader_BacksOffNextIndexForLaggingPeer(t *testing.T) {
	logStore := mocks.NewMockLogStorage()
	require.NoError(t, logStore.AppendEntries([]*raft.LogEntry{
		{Index: 1, Term: 1, Type: raft.EntryCommand, Command: []byte("a")},
		{Index: 2, Term: 1, Type: raft.EntryCommand, Command: []byte("b")},
		{Index: 3, Term: 1, Type: raft.EntryCommand, Command: []byte("c")},
	}))
	require.NoError(t, logStore.SetCurrentTerm(1))

	// The peer holds an empty log: it rejects until offered the full prefix.
	lagging := mocks.NewMockPeer("server-2")
	lagging.AppendEntriesFunc = func(req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
		if len(req.Entries) == 0 || req.Entries[0].Index > 1 {
			return &raft.AppendEntriesResponse{Term: req.Term, Success: false}, nil
		}
		return &raft.AppendEntriesResponse{Term: req.Term, Success: true}, nil
	}

	node, err := raft.NewNode("server-1", logStore, mocks.NewMockStateMachine(),
		[]raft.Peer{lagging, mocks.NewMockPeer("server-3")}, nil, nil, quietOpts())
	require.NoError(t, err)
	defer node.Shutdown()

	node.Start()
	node.BecomeLeader()

	// NextIndex starts at the last log index and walks back one per rejected
	// cycle until the peer accepts everything from index 1.
	require.Eventually(t, func() bool {
		req := lagging.LastAppendEntries()
		return req != nil && len(req.Entries) == 3 && req.Entries[0].Index == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLeader_NeverCommitsPreviousTermEntriesByCounting(t *testing.T) {
	// The log carries an entry from term 1, but the leader is elected at a
	// later term. Majority replication alone must not commit it (Figure 8).
	logStore := mocks.NewMockLogStorage()
	require.NoError(t, logStore.AppendEntries([]*raft.LogEntry{
		{Index: 1, Term: 1, Type: raft.EntryCommand, Command: []byte("old")},
	}))
	require.NoError(t, logStore.SetCurrentTerm(3))

	sm := mocks.NewMockStateMachine()
	node, err := raft.NewNode("server-1", logStore, sm,
		[]raft.Peer{mocks.NewMockPeer("server-2"), mocks.NewMockPeer("server-3")}, nil, nil, quietOpts())
	require.NoError(t, err)
	defer node.Shutdown()

	node.Start()
	node.BecomeLeader()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, uint64(0), node.CurrentState().CommitIndex)
	assert.Zero(t, sm.ApplyCallCount)

	// A fresh entry in the current term commits, and the old entry commits
	// with it on later cycles.
	require.NoError(t, node.Accept([]byte("new")))
	require.Eventually(t, func() bool {
		return node.CurrentState().CommitIndex == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, sm.GetAppliedEntries(), 2)
}

func TestLeader_RejectsAppendEntriesAtOwnTerm(t *testing.T) {
	node, _, _ := newTestNode(t, []raft.Peer{mocks.NewMockPeer("server-2"), mocks.NewMockPeer("server-3")}, quietOpts())
	node.Start()
	node.BecomeLeader()
	term := node.CurrentState().CurrentTerm

	resp := node.HandleAppendEntries(&raft.AppendEntriesRequest{Term: term, LeaderID: "server-2"})
	assert.False(t, resp.Success)
	assert.Equal(t, raft.Leader, node.Role())

	resp = node.HandleAppendEntries(&raft.AppendEntriesRequest{Term: term + 1, LeaderID: "server-2"})
	assert.True(t, resp.Success)
	assert.Equal(t, raft.Follower, node.Role())
}

func TestLeader_DeniesVotesAtOwnTerm(t *testing.T) {
	node, _, _ := newTestNode(t, []raft.Peer{mocks.NewMockPeer("server-2"), mocks.NewMockPeer("server-3")}, quietOpts())
	node.Start()
	node.BecomeLeader()
	term := node.CurrentState().CurrentTerm

	resp := node.HandleRequestVote(&raft.RequestVoteRequest{Term: term, CandidateID: "server-2"})
	assert.False(t, resp.VoteGranted)
	assert.Equal(t, raft.Leader, node.Role())

	resp = node.HandleRequestVote(&raft.RequestVoteRequest{Term: term + 1, CandidateID: "server-2"})
	assert.True(t, resp.VoteGranted)
	assert.Equal(t, raft.Follower, node.Role())
}
