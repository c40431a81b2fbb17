package raft

import "github.com/google/uuid"

// MessageKind identifies what a self-message means to the role handling it.
type MessageKind int

const (
	// ElectionTimeoutElapsed signals that no valid leader contact arrived
	// within the randomized election timeout.
	ElectionTimeoutElapsed MessageKind = iota
)

// Message is a self-addressed event scheduled through the SendToSelf queue.
// The ID ties a delivered message back to the schedule that produced it, so a
// role can tell its own pending timer from a superseded one.
type Message struct {
	ID   uuid.UUID
	Kind MessageKind
	// Term at the time the message was scheduled, for logging and debugging.
	Term uint64
}

// NewElectionTimeoutMessage creates an election-timeout message for the given
// term.
func NewElectionTimeoutMessage(term uint64) *Message {
	return &Message{
		ID:   uuid.New(),
		Kind: ElectionTimeoutElapsed,
		Term: term,
	}
}
