package raft_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-engine/internal/raft"
	"consensus-engine/internal/raft/mocks"
)

func TestElection_TimeoutPromotesToLeader(t *testing.T) {
	peers := []raft.Peer{mocks.NewMockPeer("server-2"), mocks.NewMockPeer("server-3")}
	node, _, _ := newTestNode(t, peers, raft.Options{
		HeartbeatInterval:  10 * time.Millisecond,
		ElectionTimeoutMin: 30 * time.Millisecond,
		ElectionTimeoutMax: 60 * time.Millisecond,
	})

	node.Start()

	require.Eventually(t, func() bool {
		return node.Role() == raft.Leader
	}, 2*time.Second, 5*time.Millisecond)

	st := node.CurrentState()
	assert.Equal(t, uint64(1), st.CurrentTerm)
	require.NotNil(t, st.VotedFor)
	assert.Equal(t, node.ID(), *st.VotedFor)
}

func TestElection_WinsWithExactQuorum(t *testing.T) {
	// 5 servers: the self-vote plus two grants is exactly a majority.
	granting1 := mocks.NewMockPeer("server-2")
	granting2 := mocks.NewMockPeer("server-3")
	denying1 := mocks.NewMockPeer("server-4")
	denying1.RequestVoteResponse = &raft.RequestVoteResponse{Term: 1, VoteGranted: false}
	denying2 := mocks.NewMockPeer("server-5")
	denying2.RequestVoteResponse = &raft.RequestVoteResponse{Term: 1, VoteGranted: false}

	node, _, _ := newTestNode(t, []raft.Peer{granting1, granting2, denying1, denying2}, quietOpts())
	node.Start()
	node.BecomeCandidate()

	assert.Equal(t, raft.Leader, node.Role())
}

func TestElection_SplitVoteStaysCandidate(t *testing.T) {
	// 5 servers, one grant: 2 votes total, short of the 3 needed.
	granting := mocks.NewMockPeer("server-2")
	peers := []raft.Peer{granting}
	for _, id := range []raft.ServerID{"server-3", "server-4", "server-5"} {
		p := mocks.NewMockPeer(id)
		p.RequestVoteResponse = &raft.RequestVoteResponse{Term: 1, VoteGranted: false}
		peers = append(peers, p)
	}

	node, _, _ := newTestNode(t, peers, quietOpts())
	node.Start()
	node.BecomeCandidate()

	assert.Equal(t, raft.Candidate, node.Role())
	assert.Equal(t, uint64(1), node.CurrentState().CurrentTerm)
}

func TestElection_ReelectionRaisesTheTerm(t *testing.T) {
	// Votes never arrive, so each round times out and restarts at a higher
	// term.
	failing := mocks.NewMockPeer("server-2")
	failing.RequestVoteError = assert.AnError
	failing2 := mocks.NewMockPeer("server-3")
	failing2.RequestVoteError = assert.AnError

	node, _, _ := newTestNode(t, []raft.Peer{failing, failing2}, raft.Options{
		HeartbeatInterval:  10 * time.Millisecond,
		ElectionTimeoutMin: 20 * time.Millisecond,
		ElectionTimeoutMax: 40 * time.Millisecond,
	})
	node.Start()

	require.Eventually(t, func() bool {
		return node.CurrentState().CurrentTerm >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, raft.Candidate, node.Role())
}

func TestElection_StepsDownOnGreaterTermInResponse(t *testing.T) {
	ahead := mocks.NewMockPeer("server-2")
	ahead.RequestVoteResponse = &raft.RequestVoteResponse{Term: 99, VoteGranted: false}

	node, _, _ := newTestNode(t, []raft.Peer{ahead, mocks.NewMockPeer("server-3")}, quietOpts())
	node.Start()
	node.BecomeCandidate()

	assert.Equal(t, raft.Follower, node.Role())
	assert.Equal(t, uint64(99), node.CurrentState().CurrentTerm)
}

func TestElection_CandidateYieldsToLeaderOfSameTerm(t *testing.T) {
	// Both peers deny the vote so the candidate neither wins nor steps down.
	peers := []raft.Peer{mocks.NewMockPeer("server-2"), mocks.NewMockPeer("server-3")}
	for _, p := range peers {
		p.(*mocks.MockPeer).RequestVoteResponse = &raft.RequestVoteResponse{Term: 1, VoteGranted: false}
	}

	node, _, _ := newTestNode(t, peers, quietOpts())
	node.Start()
	node.BecomeCandidate()
	require.Equal(t, raft.Candidate, node.Role())

	// Another candidate won this term and announces itself.
	resp := node.HandleAppendEntries(&raft.AppendEntriesRequest{Term: 1, LeaderID: "server-2"})
	assert.True(t, resp.Success)
	assert.Equal(t, raft.Follower, node.Role())
}

func TestElection_CandidateDeniesVoteAtOwnTerm(t *testing.T) {
	peers := []raft.Peer{mocks.NewMockPeer("server-2"), mocks.NewMockPeer("server-3")}
	for _, p := range peers {
		p.(*mocks.MockPeer).RequestVoteResponse = &raft.RequestVoteResponse{Term: 1, VoteGranted: false}
	}

	node, _, _ := newTestNode(t, peers, quietOpts())
	node.Start()
	node.BecomeCandidate()
	require.Equal(t, raft.Candidate, node.Role())

	// The candidate already voted for itself in this term.
	resp := node.HandleRequestVote(&raft.RequestVoteRequest{Term: 1, CandidateID: "server-2"})
	assert.False(t, resp.VoteGranted)

	// A higher-term candidate takes precedence.
	resp = node.HandleRequestVote(&raft.RequestVoteRequest{Term: 2, CandidateID: "server-2"})
	assert.True(t, resp.VoteGranted)
	assert.Equal(t, raft.Follower, node.Role())
}
