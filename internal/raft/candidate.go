package raft

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// candidate runs elections. On accession it increments the term, votes for
// itself, and fans RequestVote out to every peer in parallel (Section 5.2).
// A fresh randomized timeout is scheduled at the beginning of each election,
// so a split vote resolves itself with a re-election at a new term.
type candidate struct {
	node    *Node
	timeout time.Duration
	pending uuid.UUID
}

func newCandidate(n *Node) *candidate {
	c := &candidate{node: n, timeout: n.electionTimeout()}
	c.scheduleTimeout()
	return c
}

func (c *candidate) Role() Role { return Candidate }

func (c *candidate) scheduleTimeout() {
	msg := NewElectionTimeoutMessage(c.node.current.CurrentTerm)
	c.pending = msg.ID
	c.node.queue.Publish(msg, c.timeout)
}

func (c *candidate) stop() {
	c.node.queue.Cancel(c.pending)
}

// startElection runs one full election round. It executes on the goroutine
// currently inside the node, so no other event interleaves with the term
// increment, the self-vote, or the resulting transition; the vote RPCs
// themselves run in parallel and are bounded by the transport's per-attempt
// timeouts.
func (c *candidate) startElection() {
	n := c.node
	started := time.Now()

	if n.metrics != nil {
		n.metrics.RecordElection()
	}

	// Increment currentTerm and vote for self (Section 5.2).
	n.setCurrentLocked(n.current.WithTerm(n.current.CurrentTerm + 1).WithVote(n.id))
	st := n.current

	log.Printf("[SERVER-%s] [TERM-%d] initiated a new election", n.id, st.CurrentTerm)

	req := &RequestVoteRequest{Term: st.CurrentTerm, CandidateID: n.id}

	var (
		mu      sync.Mutex
		granted = 1 // the self-vote
		maxTerm = st.CurrentTerm
	)
	var wg sync.WaitGroup
	for _, peer := range n.peers {
		wg.Add(1)
		go func(peer Peer) {
			defer wg.Done()
			resp, err := peer.RequestVote(req)
			if err != nil {
				// An unreachable peer simply contributes no vote.
				log.Printf("[SERVER-%s] [TERM-%d] RequestVote to %s failed: %v", n.id, st.CurrentTerm, peer.ID(), err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if resp.Term > maxTerm {
				maxTerm = resp.Term
			}
			if resp.VoteGranted {
				granted++
			}
		}(peer)
	}
	wg.Wait()

	// A server with a higher term exists; revert to follower (Section 5.1).
	if maxTerm > st.CurrentTerm {
		n.becomeFollowerLocked(n.current.WithTerm(maxTerm))
		return
	}

	if granted >= QuorumSize(n.clusterSize()) {
		log.Printf("[SERVER-%s] [TERM-%d] won the election with %d/%d votes",
			n.id, st.CurrentTerm, granted, n.clusterSize())
		if n.metrics != nil {
			n.metrics.RecordElectionDuration(time.Since(started))
		}
		n.becomeLeaderLocked()
		return
	}

	// Neither won nor lost (split vote, option c from Section 5.2). The
	// pending timeout will trigger a re-election at a higher term.
	log.Printf("[SERVER-%s] [TERM-%d] election inconclusive (%d/%d votes)",
		n.id, st.CurrentTerm, granted, n.clusterSize())
}

func (c *candidate) handleMessage(msg *Message) {
	switch msg.Kind {
	case ElectionTimeoutElapsed:
		if msg.ID != c.pending {
			return
		}
		// Restart the randomized timeout before the new round, then run it.
		c.timeout = c.node.electionTimeout()
		c.scheduleTimeout()
		c.startElection()
	default:
		panic(fmt.Sprintf("raft: candidate received unknown message kind %d", msg.Kind))
	}
}

func (c *candidate) handleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	n := c.node
	st := n.current

	if req.Term < st.CurrentTerm {
		return &AppendEntriesResponse{Term: st.CurrentTerm, Success: false}
	}

	// A leader exists for this term or a newer one: revert to follower and
	// let it process the request (Section 5.2).
	next := st
	if req.Term > st.CurrentTerm {
		next = st.WithTerm(req.Term)
	}
	f := n.becomeFollowerLocked(next)
	return f.handleAppendEntries(req)
}

func (c *candidate) handleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	n := c.node
	st := n.current

	if req.Term > st.CurrentTerm {
		f := n.becomeFollowerLocked(st.WithTerm(req.Term))
		return f.handleRequestVote(req)
	}
	// We already voted for ourselves in this term.
	return &RequestVoteResponse{Term: st.CurrentTerm, VoteGranted: false}
}
