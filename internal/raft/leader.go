package raft

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// leader owns the per-peer replication bookkeeping and the heartbeat timer
// that drives the replication cycle. Both are discarded when the server
// leaves leadership; a reply arriving after step-down lands in this discarded
// instance and is effectively dropped.
type leader struct {
	node *Node

	// Guards progress. One peer's read-modify-write of the shared bookkeeping
	// must not interleave with another's, even though the RPCs themselves run
	// concurrently.
	mu       sync.Mutex
	progress map[ServerID]*PeerState

	heartbeat *time.Ticker
	stopCh    chan struct{}
	stopped   atomic.Bool
}

func newLeader(n *Node) *leader {
	lastIdx, err := n.logStore.LastLogIndex()
	if err != nil {
		log.Printf("[SERVER-%s] failed to read last log index at accession: %v", n.id, err)
	}
	// NextIndex starts at the leader's last log index, floored at 1. Re-sending
	// the boundary entry is harmless: followers recognize entries they already
	// hold by index and term.
	next := lastIdx
	if next < 1 {
		next = 1
	}

	progress := make(map[ServerID]*PeerState, len(n.peers))
	for _, peer := range n.peers {
		progress[peer.ID()] = &PeerState{Peer: peer, MatchIndex: 0, NextIndex: next}
	}
	return &leader{
		node:     n,
		progress: progress,
		stopCh:   make(chan struct{}),
	}
}

func (l *leader) Role() Role { return Leader }

// start launches the heartbeat loop. The first replication cycle fires
// immediately, announcing leadership and preventing new elections
// (Section 5.2).
func (l *leader) start() {
	l.heartbeat = time.NewTicker(l.node.opts.HeartbeatInterval)
	go l.run()
}

func (l *leader) run() {
	l.replicate()
	for {
		select {
		case <-l.stopCh:
			return
		case <-l.heartbeat.C:
			l.replicate()
		}
	}
}

func (l *leader) stop() {
	if l.stopped.CompareAndSwap(false, true) {
		if l.heartbeat != nil {
			l.heartbeat.Stop()
		}
		close(l.stopCh)
	}
}

// replicate runs one replication cycle: a concurrent AppendEntries fan-out to
// every peer, bookkeeping updates under the leader's critical section, then
// step-down or commit advancement depending on what came back.
func (l *leader) replicate() {
	n := l.node
	if l.stopped.Load() {
		return
	}

	st := n.CurrentState()
	lastIdx, err := n.logStore.LastLogIndex()
	if err != nil {
		log.Printf("[SERVER-%s] replication cycle aborted, cannot read log: %v", n.id, err)
		return
	}
	lastTerm, err := n.logStore.LastLogTerm()
	if err != nil {
		log.Printf("[SERVER-%s] replication cycle aborted, cannot read log: %v", n.id, err)
		return
	}

	var (
		respMu  sync.Mutex
		maxTerm = st.CurrentTerm
	)
	var wg sync.WaitGroup
	for _, ps := range l.peerStates() {
		wg.Add(1)
		go func(ps *PeerState) {
			defer wg.Done()

			l.mu.Lock()
			next := ps.NextIndex
			l.mu.Unlock()

			// Everything from the peer's NextIndex to the end of the log; an
			// empty slice makes this a pure heartbeat.
			var entries []*LogEntry
			if next <= lastIdx {
				var readErr error
				entries, readErr = n.logStore.GetEntriesFrom(next)
				if readErr != nil {
					log.Printf("[SERVER-%s] failed to read entries from %d for %s: %v", n.id, next, ps.Peer.ID(), readErr)
					return
				}
			}

			resp, err := ps.Peer.AppendEntries(&AppendEntriesRequest{
				Term:         st.CurrentTerm,
				LeaderID:     n.id,
				PrevLogIndex: lastIdx,
				PrevLogTerm:  lastTerm,
				Entries:      entries,
				LeaderCommit: st.CommitIndex,
			})

			if resp != nil {
				respMu.Lock()
				if resp.Term > maxTerm {
					maxTerm = resp.Term
				}
				respMu.Unlock()
			}

			l.mu.Lock()
			defer l.mu.Unlock()
			if err != nil || !resp.Success {
				// Rejection and unreachability take the same path: back
				// NextIndex off by one, floored at 1, and retry next cycle
				// until the point of divergence is found (Section 5.3).
				if ps.NextIndex > 1 {
					ps.NextIndex--
				}
				return
			}
			if len(entries) > 0 {
				if high := entries[len(entries)-1].Index; high > ps.MatchIndex {
					ps.MatchIndex = high
				}
				ps.NextIndex = ps.MatchIndex + 1
			}
		}(ps)
	}
	wg.Wait()

	if l.stopped.Load() {
		return
	}

	// Any response carrying a greater term ends this leadership; abandon
	// commit advancement for the cycle (Section 5.1).
	if maxTerm > st.CurrentTerm {
		log.Printf("[SERVER-%s] [TERM-%d] observed term %d in responses, stepping down", n.id, st.CurrentTerm, maxTerm)
		n.stepDownIfCurrent(l, maxTerm)
		return
	}

	l.advanceCommit()
}

// advanceCommit moves the commit index forward by a single step when the
// entry at CommitIndex+1 is replicated on a strict majority and was written
// in the leader's own term (Section 5.4.2).
func (l *leader) advanceCommit() {
	n := l.node
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != State(l) {
		return
	}

	candidateIdx := n.current.CommitIndex + 1
	lastIdx, err := n.logStore.LastLogIndex()
	if err != nil || candidateIdx > lastIdx {
		return
	}
	entryTerm, err := n.logStore.GetTermAtIndex(candidateIdx)
	if err != nil {
		log.Printf("[SERVER-%s] failed to read term at %d: %v", n.id, candidateIdx, err)
		return
	}
	if CanAdvanceCommit(candidateIdx, lastIdx, entryTerm, n.current.CurrentTerm, l.matchIndexes(), n.clusterSize()) {
		n.applyToLocked(candidateIdx)
	}
}

// waitForCommit blocks the Accept caller until the entry at index is
// replicated on a majority, polling at the heartbeat period. The entry was
// appended in the leader's current term, so majority replication makes it
// durable under the commit rules.
func (l *leader) waitForCommit(index uint64, started time.Time) error {
	n := l.node

	ticker := time.NewTicker(n.opts.HeartbeatInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if n.opts.AcceptTimeout > 0 {
		timer := time.NewTimer(n.opts.AcceptTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-l.stopCh:
			return ErrLeadershipLost
		case <-deadline:
			return ErrAcceptTimeout
		case <-ticker.C:
			if MatchedByQuorum(l.matchIndexes(), index, n.clusterSize()) {
				l.finishAccept(index, started)
				return nil
			}
		}
	}
}

// finishAccept applies the freshly replicated prefix on the leader itself.
func (l *leader) finishAccept(index uint64, started time.Time) {
	n := l.node
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == State(l) {
		n.applyToLocked(index)
	}
	if n.metrics != nil {
		n.metrics.RecordCommandLatency(time.Since(started))
	}
}

func (l *leader) peerStates() []*PeerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	states := make([]*PeerState, 0, len(l.progress))
	for _, ps := range l.progress {
		states = append(states, ps)
	}
	return states
}

func (l *leader) matchIndexes() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	matches := make([]uint64, 0, len(l.progress))
	for _, ps := range l.progress {
		matches = append(matches, ps.MatchIndex)
	}
	return matches
}

func (l *leader) handleMessage(msg *Message) {
	switch msg.Kind {
	case ElectionTimeoutElapsed:
		// A stale timer from a previous role; leaders have no election timer.
		return
	default:
		panic(fmt.Sprintf("raft: leader received unknown message kind %d", msg.Kind))
	}
}

func (l *leader) handleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	n := l.node
	st := n.current

	// A leader never accepts another leader's entries at an equal-or-lesser
	// term; two leaders in one term is impossible (Election Safety).
	if req.Term <= st.CurrentTerm {
		return &AppendEntriesResponse{Term: st.CurrentTerm, Success: false}
	}

	// A genuine newer leader exists. Commit and apply what we can first, then
	// step down.
	if lastIdx, err := n.logStore.LastLogIndex(); err == nil {
		commitIndex, _ := ReceiverProgress(req, lastIdx, st)
		n.applyToLocked(commitIndex)
	}
	n.becomeFollowerLocked(n.current.WithTerm(req.Term))
	return &AppendEntriesResponse{Term: req.Term, Success: true}
}

func (l *leader) handleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	n := l.node
	st := n.current

	// Grant, and step down, only when the candidate's term exceeds ours.
	if req.Term > st.CurrentTerm {
		f := n.becomeFollowerLocked(st.WithTerm(req.Term))
		return f.handleRequestVote(req)
	}
	return &RequestVoteResponse{Term: st.CurrentTerm, VoteGranted: false}
}
