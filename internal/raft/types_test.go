package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentState_WithTerm(t *testing.T) {
	candidate := ServerID("server-2")
	original := CurrentState{ID: "server-1", CurrentTerm: 3, VotedFor: &candidate, CommitIndex: 5, LastApplied: 5}

	next := original.WithTerm(4)

	t.Run("vote is cleared for the new term", func(t *testing.T) {
		assert.Equal(t, uint64(4), next.CurrentTerm)
		assert.Nil(t, next.VotedFor)
	})

	t.Run("commit bookkeeping carries over", func(t *testing.T) {
		assert.Equal(t, uint64(5), next.CommitIndex)
		assert.Equal(t, uint64(5), next.LastApplied)
	})

	t.Run("original snapshot is untouched", func(t *testing.T) {
		assert.Equal(t, uint64(3), original.CurrentTerm)
		require.NotNil(t, original.VotedFor)
		assert.Equal(t, candidate, *original.VotedFor)
	})
}

func TestCurrentState_WithVote(t *testing.T) {
	original := CurrentState{ID: "server-1", CurrentTerm: 3}

	next := original.WithVote("server-2")
	require.NotNil(t, next.VotedFor)
	assert.Equal(t, ServerID("server-2"), *next.VotedFor)
	assert.Nil(t, original.VotedFor)
}

func TestCurrentState_WithProgress(t *testing.T) {
	original := CurrentState{ID: "server-1"}

	next := original.WithProgress(3, 2)
	assert.Equal(t, uint64(3), next.CommitIndex)
	assert.Equal(t, uint64(2), next.LastApplied)

	t.Run("applying past the commit index panics", func(t *testing.T) {
		assert.Panics(t, func() {
			original.WithProgress(2, 3)
		})
	})
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "Follower", Follower.String())
	assert.Equal(t, "Candidate", Candidate.String())
	assert.Equal(t, "Leader", Leader.String())
	assert.Equal(t, "Unknown", Role(42).String())
}
