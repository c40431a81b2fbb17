package raft

// This file isolates the safety-critical replication arithmetic from I/O.
// Everything here is a pure function of its arguments so the commit rules can
// be tested without a node, a log, or a network.

// ReceiverProgress computes the commit bookkeeping a receiver should adopt
// from an incoming AppendEntries request, given the receiver's current
// snapshot and its last log index. The returned lastApplied is the target the
// receiver must catch up to by applying entries sequentially, in index order.
//
// CommitIndex never exceeds the receiver's last log index: the leader's
// commit may reference entries this server does not hold yet (Figure 2's
// min(leaderCommit, index of last new entry)).
func ReceiverProgress(req *AppendEntriesRequest, lastLogIndex uint64, state CurrentState) (commitIndex, lastApplied uint64) {
	commitIndex = state.CommitIndex
	if req.LeaderCommit > commitIndex {
		commitIndex = min(req.LeaderCommit, lastLogIndex)
	}
	// Commit never moves backwards.
	if commitIndex < state.CommitIndex {
		commitIndex = state.CommitIndex
	}
	return commitIndex, commitIndex
}

// QuorumSize returns the strict majority for a cluster of the given size,
// `floor(n/2) + 1` (Section 5.2).
func QuorumSize(clusterSize int) int {
	return clusterSize/2 + 1
}

// MatchedByQuorum reports whether the entry at index is replicated on a strict
// majority of a cluster with clusterSize members. The leader counts itself:
// its own copy of the entry is the implicit +1 on top of the peer matches.
func MatchedByQuorum(matchIndexes []uint64, index uint64, clusterSize int) bool {
	replicas := 1 // the leader's own log
	for _, match := range matchIndexes {
		if match >= index {
			replicas++
		}
	}
	return replicas >= QuorumSize(clusterSize)
}

// CanAdvanceCommit decides whether a leader may advance its commit index to
// candidateIndex. Beyond majority replication, the entry at candidateIndex
// must have been written in the leader's own current term: Raft never commits
// entries from previous terms by counting replicas (Section 5.4.2, Figure 8).
func CanAdvanceCommit(candidateIndex, lastLogIndex, entryTerm, currentTerm uint64, matchIndexes []uint64, clusterSize int) bool {
	if candidateIndex == 0 || candidateIndex > lastLogIndex {
		return false
	}
	if entryTerm != currentTerm {
		return false
	}
	return MatchedByQuorum(matchIndexes, candidateIndex, clusterSize)
}
