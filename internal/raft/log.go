package raft

// LogStorage is the contract the consensus core consumes for the replicated
// log: an ordered, append-only sequence of entries indexed from 1. If the
// owning server is Leader, the collection is append-only as per the Leader
// Append-Only Property in Figure 3 from the [Raft paper](https://raft.github.io/raft.pdf).
//
// Persistent state operations cover Figure 2's "updated on stable storage
// before responding to RPCs" requirement for currentTerm and votedFor.
type LogStorage interface {
	// Append assigns the entry the next free index, stores it, and returns
	// the assigned index.
	Append(entry *LogEntry) (uint64, error)

	// AppendEntries stores multiple entries at the indices they carry. This is
	// the replication path: followers receive entries whose indices were
	// assigned by the leader.
	AppendEntries(entries []*LogEntry) error

	// GetEntry retrieves the entry at the given index.
	GetEntry(index uint64) (*LogEntry, error)

	// GetEntriesFrom retrieves all entries from the given index (inclusive)
	// through the end of the log, in index order.
	GetEntriesFrom(index uint64) ([]*LogEntry, error)

	// GetTermAtIndex returns the term of the entry at the given index. Index 0
	// is the sentinel "no entry" and yields term 0.
	GetTermAtIndex(index uint64) (uint64, error)

	// DeleteEntriesFrom deletes all entries from the given index (inclusive).
	// Used to resolve log conflicts as per Section 5.3.
	DeleteEntriesFrom(index uint64) error

	// Count returns the number of entries in the log.
	Count() (uint64, error)

	// LastLogIndex returns the index of the last entry, 0 when the log is
	// empty.
	LastLogIndex() (uint64, error)

	// LastLogTerm returns the term of the last entry, 0 when the log is
	// empty.
	LastLogTerm() (uint64, error)

	// GetCurrentTerm retrieves the persisted current term.
	GetCurrentTerm() (uint64, error)

	// SetCurrentTerm persists the current term.
	SetCurrentTerm(term uint64) error

	// GetVotedFor retrieves the candidate this server voted for in the
	// current term, nil when no vote was cast.
	GetVotedFor() (*ServerID, error)

	// SetVotedFor persists the vote; nil clears it for a new term.
	SetVotedFor(candidate *ServerID) error

	// Close releases the underlying storage.
	Close() error
}
