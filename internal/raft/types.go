package raft

import (
	"time"

	"consensus-engine/internal/pubsub"
)

// ServerID uniquely identifies a server in the cluster.
type ServerID string

// ServerAddress is the network address a server's transport listens on.
type ServerAddress string

// Role is the consensus role a server is currently acting in.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// CurrentState is an immutable snapshot of a server's consensus variables.
// It is a value type: transitions produce a fresh snapshot via the With*
// constructors, the live one is never mutated in place. Readers holding a
// copy can therefore never observe a torn update.
type CurrentState struct {
	// ID of the server owning this snapshot.
	ID ServerID
	// CurrentTerm is the latest term this server has seen. Monotonically
	// non-decreasing (Section 5.1).
	CurrentTerm uint64
	// VotedFor is the candidate this server voted for in CurrentTerm, nil
	// when no vote was cast.
	VotedFor *ServerID
	// CommitIndex is the index of the highest log entry known to be
	// committed.
	CommitIndex uint64
	// LastApplied is the index of the highest log entry applied to the state
	// machine. Never exceeds CommitIndex.
	LastApplied uint64
}

// WithTerm returns a copy at the given term with the vote cleared. A new term
// always starts with no vote cast (Figure 2).
func (s CurrentState) WithTerm(term uint64) CurrentState {
	s.CurrentTerm = term
	s.VotedFor = nil
	return s
}

// WithVote returns a copy recording a vote for the given candidate in the
// current term.
func (s CurrentState) WithVote(candidate ServerID) CurrentState {
	s.VotedFor = &candidate
	return s
}

// WithProgress returns a copy with updated commit bookkeeping. Applying past
// the commit index is an invariant violation.
func (s CurrentState) WithProgress(commitIndex, lastApplied uint64) CurrentState {
	if lastApplied > commitIndex {
		panic("raft: lastApplied must not exceed commitIndex")
	}
	s.CommitIndex = commitIndex
	s.LastApplied = lastApplied
	return s
}

// LogEntryType distinguishes client commands from internal entries.
type LogEntryType int

const (
	// EntryCommand carries an opaque client command for the state machine.
	EntryCommand LogEntryType = iota
	// EntryNoop is an empty entry a fresh leader may write to commit its
	// term.
	EntryNoop
)

// LogEntry is one element of the replicated log.
type LogEntry struct {
	// Index is the entry's position in the log, starting at 1.
	Index uint64 `json:"index"`
	// Term is the term in which the entry was created on the leader.
	Term uint64 `json:"term"`
	// Type of the entry.
	Type LogEntryType `json:"type"`
	// Command is the opaque payload handed to the state machine.
	Command []byte `json:"command,omitempty"`
}

// AppendEntriesRequest is sent by the leader to replicate log entries and as
// a heartbeat (Section 5.3).
type AppendEntriesRequest struct {
	Term     uint64   `json:"term"`
	LeaderID ServerID `json:"leader_id"`
	// PrevLogIndex and PrevLogTerm describe the tail of the leader's log at
	// the time the request was built.
	PrevLogIndex uint64 `json:"prev_log_index"`
	PrevLogTerm  uint64 `json:"prev_log_term"`
	// Entries to store; empty for a pure heartbeat.
	Entries []*LogEntry `json:"entries,omitempty"`
	// LeaderCommit is the leader's commit index.
	LeaderCommit uint64 `json:"leader_commit"`
}

// AppendEntriesResponse is the receiver's reply to an AppendEntriesRequest.
type AppendEntriesResponse struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
}

// RequestVoteRequest is sent by candidates to gather votes (Section 5.2).
type RequestVoteRequest struct {
	Term        uint64   `json:"term"`
	CandidateID ServerID `json:"candidate_id"`
}

// RequestVoteResponse is the receiver's reply to a RequestVoteRequest.
type RequestVoteResponse struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

// PeerState is the leader's replication bookkeeping for one peer (Figure 2's
// nextIndex[] and matchIndex[]).
type PeerState struct {
	Peer Peer
	// MatchIndex is the highest entry known to be replicated on the peer.
	MatchIndex uint64
	// NextIndex is the index of the next entry to send to the peer.
	NextIndex uint64
}

// Peer is the consensus core's view of a remote server. Calls are synchronous;
// implementations bound them with their own timeouts and surface failures as
// errors.
type Peer interface {
	ID() ServerID
	AppendEntries(req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	RequestVote(req *RequestVoteRequest) (*RequestVoteResponse, error)
}

// StateMachine consumes committed log entries. Apply is only ever invoked
// sequentially, in log order, from the goroutine advancing the commit index.
type StateMachine interface {
	Apply(entry *LogEntry)
}

// Collector receives consensus metrics. All methods must be safe for
// concurrent use.
type Collector interface {
	RecordElection()
	RecordElectionDuration(d time.Duration)
	RecordHeartbeat()
	RecordAppendEntries()
	RecordRequestVote()
	RecordCommandCommitted()
	RecordCommandLatency(d time.Duration)
}

// Event types published on the node's pubsub bus.
const (
	// ServerShutDown fires once when the node shuts down. Payload: struct{}{}.
	ServerShutDown pubsub.EventType = iota
	// RoleChanged fires on every role transition. Payload: RoleChangedPayload.
	RoleChanged
	// CommandCommitted fires after each entry is applied to the state
	// machine. Payload: CommandCommittedPayload.
	CommandCommitted
)

// RoleChangedPayload describes a role transition.
type RoleChangedPayload struct {
	From Role
	To   Role
	Term uint64
}

// CommandCommittedPayload describes one applied log entry.
type CommandCommittedPayload struct {
	Index uint64
	Term  uint64
}
