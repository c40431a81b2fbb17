package raft

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// follower is the initial and default role. It owns a single election timer,
// realized as a pending self-message: when no valid leader contact arrives
// within the randomized timeout, the message comes back and the server starts
// an election (Section 5.2).
type follower struct {
	node *Node
	// The randomized timeout chosen for this follower instance.
	timeout time.Duration
	// ID of the pending election-timeout message. A delivered message with a
	// different ID belongs to a superseded schedule and is dropped.
	pending uuid.UUID
}

func newFollower(n *Node) *follower {
	f := &follower{node: n, timeout: n.electionTimeout()}
	f.scheduleTimeout()
	return f
}

func (f *follower) Role() Role { return Follower }

func (f *follower) scheduleTimeout() {
	msg := NewElectionTimeoutMessage(f.node.current.CurrentTerm)
	f.pending = msg.ID
	f.node.queue.Publish(msg, f.timeout)
}

// resetTimeout restarts the election timer. Called on every valid leader
// contact and on every granted vote.
func (f *follower) resetTimeout() {
	f.node.queue.Cancel(f.pending)
	f.scheduleTimeout()
}

func (f *follower) stop() {
	f.node.queue.Cancel(f.pending)
}

func (f *follower) handleMessage(msg *Message) {
	switch msg.Kind {
	case ElectionTimeoutElapsed:
		if msg.ID != f.pending {
			// A timer that fired while its cancellation raced a reset.
			return
		}
		log.Printf("[SERVER-%s] [TERM-%d] election timeout elapsed, becoming candidate",
			f.node.id, f.node.current.CurrentTerm)
		f.node.becomeCandidateLocked()
	default:
		panic(fmt.Sprintf("raft: follower received unknown message kind %d", msg.Kind))
	}
}

func (f *follower) handleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	n := f.node
	st := n.current

	// A request with a stale term number is rejected (Section 5.1).
	if req.Term < st.CurrentTerm {
		return &AppendEntriesResponse{Term: st.CurrentTerm, Success: false}
	}
	if req.Term > st.CurrentTerm {
		n.setCurrentLocked(st.WithTerm(req.Term))
		st = n.current
	}

	// Communication from a live leader: restart the election timer.
	f.resetTimeout()

	if len(req.Entries) > 0 {
		if !f.storeEntries(req.Entries) {
			return &AppendEntriesResponse{Term: st.CurrentTerm, Success: false}
		}
	}

	lastIdx, err := n.logStore.LastLogIndex()
	if err != nil {
		log.Printf("[SERVER-%s] failed to read last log index: %v", n.id, err)
		return &AppendEntriesResponse{Term: st.CurrentTerm, Success: false}
	}
	commitIndex, _ := ReceiverProgress(req, lastIdx, n.current)
	n.applyToLocked(commitIndex)

	return &AppendEntriesResponse{Term: n.current.CurrentTerm, Success: true}
}

// storeEntries performs the consistency check and log repair of Section 5.3:
// refuse entries that would leave a gap, truncate a conflicting suffix, and
// append what is genuinely new. Returns false when the leader must back off
// NextIndex and retry with a longer range.
func (f *follower) storeEntries(entries []*LogEntry) bool {
	n := f.node

	lastIdx, err := n.logStore.LastLogIndex()
	if err != nil {
		log.Printf("[SERVER-%s] failed to read last log index: %v", n.id, err)
		return false
	}

	// The first offered entry must attach directly to our log.
	if entries[0].Index > lastIdx+1 {
		return false
	}

	missing := make([]*LogEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Index <= lastIdx {
			term, err := n.logStore.GetTermAtIndex(entry.Index)
			if err == nil && term == entry.Term {
				// Same index and term store the same command (Log Matching
				// Property); nothing to do.
				continue
			}
			// An existing entry conflicts with the leader's: delete it and
			// all that follow (Section 5.3).
			if err := n.logStore.DeleteEntriesFrom(entry.Index); err != nil {
				log.Printf("[SERVER-%s] failed to truncate log from %d: %v", n.id, entry.Index, err)
				return false
			}
			lastIdx = entry.Index - 1
		}
		missing = append(missing, entry)
	}

	if len(missing) == 0 {
		return true
	}
	if err := n.logStore.AppendEntries(missing); err != nil {
		log.Printf("[SERVER-%s] failed to append %d entries: %v", n.id, len(missing), err)
		return false
	}
	return true
}

func (f *follower) handleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	n := f.node
	st := n.current

	if req.Term < st.CurrentTerm {
		return &RequestVoteResponse{Term: st.CurrentTerm, VoteGranted: false}
	}
	if req.Term > st.CurrentTerm {
		n.setCurrentLocked(st.WithTerm(req.Term))
		st = n.current
	}

	// At most one vote per term, first-come-first-served (Section 5.2).
	if st.VotedFor == nil || *st.VotedFor == req.CandidateID {
		n.setCurrentLocked(st.WithVote(req.CandidateID))
		f.resetTimeout()
		log.Printf("[SERVER-%s] [TERM-%d] granted vote to %s", n.id, st.CurrentTerm, req.CandidateID)
		return &RequestVoteResponse{Term: st.CurrentTerm, VoteGranted: true}
	}
	return &RequestVoteResponse{Term: st.CurrentTerm, VoteGranted: false}
}
