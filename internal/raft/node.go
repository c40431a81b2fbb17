package raft

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"consensus-engine/internal/pubsub"
)

var (
	// ErrNotLeader is returned by Accept on a server that does not currently
	// hold the Leader role. Callers are expected to redirect to the leader.
	ErrNotLeader = errors.New("raft: not the leader")
	// ErrLeadershipLost is returned by Accept when the server stops being
	// Leader while waiting for the command to replicate.
	ErrLeadershipLost = errors.New("raft: leadership lost while replicating")
	// ErrAcceptTimeout is returned by Accept when the configured wait bound
	// elapses before the command reaches a majority.
	ErrAcceptTimeout = errors.New("raft: timed out waiting for majority replication")
	// ErrShutDown is returned by Accept after the node has been shut down.
	ErrShutDown = errors.New("raft: node is shut down")
)

// DefaultAcceptTimeout bounds Accept when the configuration does not say
// otherwise. A leader cut off from the majority would otherwise block the
// caller forever.
const DefaultAcceptTimeout = 10 * time.Second

// Options carries the timing configuration of a node.
type Options struct {
	// HeartbeatInterval is the period of the leader's replication cycle. It
	// should be an order of magnitude below the election timeout
	// (Section 5.6).
	HeartbeatInterval time.Duration
	// ElectionTimeoutMin and ElectionTimeoutMax bound the randomized election
	// timeout. Randomization per server reduces split votes (Section 5.2).
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	// AcceptTimeout bounds how long Accept waits for majority replication.
	// Zero selects DefaultAcceptTimeout; a negative value opts into waiting
	// forever.
	AcceptTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 50 * time.Millisecond
	}
	if o.ElectionTimeoutMin <= 0 {
		// The 150-300ms range follows the recommendation at the end of
		// Section 9.3 from the Raft paper.
		o.ElectionTimeoutMin = 150 * time.Millisecond
	}
	if o.ElectionTimeoutMax <= o.ElectionTimeoutMin {
		o.ElectionTimeoutMax = 2 * o.ElectionTimeoutMin
	}
	if o.AcceptTimeout == 0 {
		o.AcceptTimeout = DefaultAcceptTimeout
	}
	return o
}

// State is the active role of a Node. Exactly one State is live per node at
// any time; the Node swaps it wholesale on transition. Handlers run with the
// node's lock held, so a State never sees two events interleaved.
type State interface {
	// Role reports which consensus role this state implements.
	Role() Role

	handleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse
	handleRequestVote(req *RequestVoteRequest) *RequestVoteResponse
	handleMessage(msg *Message)

	// stop halts the state's timers. Called by the node before swapping in a
	// new state, so a stale timer cannot fire into a discarded role.
	stop()
}

// Node is the single authoritative holder of the active role object. It
// serializes every inbound event, whether an RPC from the transport or a
// self-message from the SendToSelf queue, into exactly one role handler at a
// time. That serialization is what makes the rest of the design safe to
// reason about sequentially despite physically concurrent timers and RPCs.
type Node struct {
	mu sync.Mutex

	id ServerID
	// The immutable snapshot of consensus variables. Only ever replaced, never
	// mutated in place, by the goroutine currently inside a role handler.
	current CurrentState
	// The active role.
	state State

	logStore     LogStorage
	stateMachine StateMachine
	peers        []Peer
	queue        *SendToSelf
	opts         Options
	bus          *pubsub.Bus
	metrics      Collector

	shutDown bool
}

// NewNode creates a node in the stopped state. Persistent term and vote are
// restored from storage so a restarted server rejoins the cluster where it
// left off. Call Start to begin participating as a Follower.
func NewNode(id ServerID, logStore LogStorage, stateMachine StateMachine, peers []Peer, bus *pubsub.Bus, metrics Collector, opts Options) (*Node, error) {
	term, err := logStore.GetCurrentTerm()
	if err != nil {
		return nil, fmt.Errorf("restore current term: %w", err)
	}
	votedFor, err := logStore.GetVotedFor()
	if err != nil {
		return nil, fmt.Errorf("restore voted for: %w", err)
	}

	n := &Node{
		id: id,
		current: CurrentState{
			ID:          id,
			CurrentTerm: term,
			VotedFor:    votedFor,
		},
		logStore:     logStore,
		stateMachine: stateMachine,
		peers:        peers,
		opts:         opts.withDefaults(),
		bus:          bus,
		metrics:      metrics,
	}
	n.queue = NewSendToSelf(n)
	return n, nil
}

// ID returns this server's id.
func (n *Node) ID() ServerID { return n.id }

// CurrentState returns a copy of the active snapshot.
func (n *Node) CurrentState() CurrentState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Role reports the node's current consensus role.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == nil {
		return Follower
	}
	return n.state.Role()
}

// Start begins participation as a Follower.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != nil || n.shutDown {
		return
	}
	n.becomeFollowerLocked(n.current)
}

// Shutdown stops the active role's timers and releases the self-message
// queue. The node rejects all events afterwards.
func (n *Node) Shutdown() {
	n.mu.Lock()
	if n.shutDown {
		n.mu.Unlock()
		return
	}
	n.shutDown = true
	if n.state != nil {
		n.state.stop()
		n.state = nil
	}
	n.queue.Dispose()
	n.mu.Unlock()

	if n.bus != nil {
		pubsub.Publish(n.bus, pubsub.NewEvent(ServerShutDown, struct{}{}))
	}
	log.Printf("[SERVER-%s] shut down", n.id)
}

// HandleAppendEntries delivers an AppendEntries RPC to the active role. The
// call runs to completion before the next event is accepted.
func (n *Node) HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == nil {
		return &AppendEntriesResponse{Term: n.current.CurrentTerm, Success: false}
	}
	return n.state.handleAppendEntries(req)
}

// HandleRequestVote delivers a RequestVote RPC to the active role.
func (n *Node) HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == nil {
		return &RequestVoteResponse{Term: n.current.CurrentTerm, VoteGranted: false}
	}
	return n.state.handleRequestVote(req)
}

// HandleMessage delivers a previously scheduled self-message back into the
// node, with the same serialization guarantee as the RPC entry points.
func (n *Node) HandleMessage(msg *Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == nil {
		return
	}
	n.state.handleMessage(msg)
}

// Accept submits a client command. It appends the command to the local log at
// the current term and blocks until a majority of peers replicated the new
// entry, at which point the command is applied to the state machine and the
// call returns. The wait is bounded by Options.AcceptTimeout.
//
// A command submitted to a server that is not, or stops being, Leader fails
// with ErrNotLeader or ErrLeadershipLost.
func (n *Node) Accept(command []byte) error {
	n.mu.Lock()
	if n.shutDown {
		n.mu.Unlock()
		return ErrShutDown
	}
	ldr, ok := n.state.(*leader)
	if !ok {
		n.mu.Unlock()
		return ErrNotLeader
	}

	entry := &LogEntry{Term: n.current.CurrentTerm, Type: EntryCommand, Command: command}
	index, err := n.logStore.Append(entry)
	if err != nil {
		n.mu.Unlock()
		return fmt.Errorf("append command to log: %w", err)
	}
	n.mu.Unlock()

	return ldr.waitForCommit(index, time.Now())
}

// BecomeFollower replaces the active role with a Follower holding the given
// snapshot.
func (n *Node) BecomeFollower(state CurrentState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.becomeFollowerLocked(state)
}

// BecomeCandidate transitions to Candidate and immediately runs an election.
func (n *Node) BecomeCandidate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.becomeCandidateLocked()
}

// BecomeLeader transitions to Leader and fires the first replication cycle.
func (n *Node) BecomeLeader() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.becomeLeaderLocked()
}

func (n *Node) becomeFollowerLocked(next CurrentState) *follower {
	n.swapOutLocked()
	n.setCurrentLocked(next)
	f := newFollower(n)
	n.swapInLocked(f)
	return f
}

func (n *Node) becomeCandidateLocked() {
	n.swapOutLocked()
	c := newCandidate(n)
	n.swapInLocked(c)
	c.startElection()
}

func (n *Node) becomeLeaderLocked() {
	n.swapOutLocked()
	l := newLeader(n)
	n.swapInLocked(l)
	l.start()
}

// swapOutLocked stops the previous role's timers before the transition
// completes, so a stale timer cannot deliver into a discarded role.
func (n *Node) swapOutLocked() {
	if n.state != nil {
		n.state.stop()
	}
}

func (n *Node) swapInLocked(next State) {
	var from Role
	if n.state != nil {
		from = n.state.Role()
	}
	n.state = next

	to := next.Role()
	if from != to {
		log.Printf("[SERVER-%s] [TERM-%d] transition %s -> %s", n.id, n.current.CurrentTerm, from, to)
		if n.bus != nil {
			pubsub.Publish(n.bus, pubsub.NewEvent(RoleChanged, RoleChangedPayload{
				From: from,
				To:   to,
				Term: n.current.CurrentTerm,
			}))
		}
	}
}

// setCurrentLocked replaces the active snapshot, persisting term and vote
// when they changed (Figure 2: updated on stable storage before responding to
// RPCs). A decreasing term is an invariant violation.
func (n *Node) setCurrentLocked(next CurrentState) {
	cur := n.current
	if next.CurrentTerm < cur.CurrentTerm {
		panic(fmt.Sprintf("raft: current term must not decrease (%d -> %d)", cur.CurrentTerm, next.CurrentTerm))
	}
	if next.CurrentTerm != cur.CurrentTerm {
		if err := n.logStore.SetCurrentTerm(next.CurrentTerm); err != nil {
			log.Printf("[SERVER-%s] failed to persist term %d: %v", n.id, next.CurrentTerm, err)
		}
	}
	if !sameVote(cur.VotedFor, next.VotedFor) {
		if err := n.logStore.SetVotedFor(next.VotedFor); err != nil {
			log.Printf("[SERVER-%s] failed to persist vote: %v", n.id, err)
		}
	}
	n.current = next
}

// applyToLocked advances the commit index to commitIndex and applies newly
// committed entries to the state machine sequentially, in index order, while
// LastApplied < CommitIndex.
func (n *Node) applyToLocked(commitIndex uint64) {
	st := n.current
	if commitIndex <= st.CommitIndex && st.LastApplied >= st.CommitIndex {
		return
	}
	if commitIndex < st.CommitIndex {
		commitIndex = st.CommitIndex
	}
	st = st.WithProgress(commitIndex, st.LastApplied)

	for st.LastApplied < st.CommitIndex {
		next := st.LastApplied + 1
		entry, err := n.logStore.GetEntry(next)
		if err != nil {
			log.Printf("[SERVER-%s] failed to read entry %d for apply: %v", n.id, next, err)
			break
		}
		n.stateMachine.Apply(entry)
		st = st.WithProgress(st.CommitIndex, next)

		if n.metrics != nil {
			n.metrics.RecordCommandCommitted()
		}
		if n.bus != nil {
			pubsub.Publish(n.bus, pubsub.NewEvent(CommandCommitted, CommandCommittedPayload{
				Index: entry.Index,
				Term:  entry.Term,
			}))
		}
	}
	n.current = st
}

// stepDownIfCurrent reverts to Follower at the given term, but only when the
// caller's state is still the active one. A replication cycle that lost a
// race with another transition must not clobber the new role.
func (n *Node) stepDownIfCurrent(s State, term uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != s {
		return
	}
	if term > n.current.CurrentTerm {
		n.becomeFollowerLocked(n.current.WithTerm(term))
	}
}

// electionTimeout picks a randomized timeout from the configured range.
func (n *Node) electionTimeout() time.Duration {
	spread := int64(n.opts.ElectionTimeoutMax - n.opts.ElectionTimeoutMin)
	return n.opts.ElectionTimeoutMin + time.Duration(rand.Int63n(spread+1))
}

// clusterSize counts all members, this server included.
func (n *Node) clusterSize() int {
	return len(n.peers) + 1
}

func sameVote(a, b *ServerID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
