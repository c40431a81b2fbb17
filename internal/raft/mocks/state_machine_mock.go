package mocks

import (
	"sync"

	"consensus-engine/internal/raft"
)

// MockStateMachine is a mock implementation of raft.StateMachine for testing.
type MockStateMachine struct {
	mu             sync.RWMutex
	AppliedEntries []raft.LogEntry
	ApplyCallCount int
	ShouldPanic    bool
}

// NewMockStateMachine creates a new mock state machine.
func NewMockStateMachine() *MockStateMachine {
	return &MockStateMachine{
		AppliedEntries: make([]raft.LogEntry, 0),
	}
}

func (m *MockStateMachine) Apply(entry *raft.LogEntry) {
	if m.ShouldPanic {
		panic("mock state machine panic")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppliedEntries = append(m.AppliedEntries, *entry)
	m.ApplyCallCount++
}

// GetAppliedEntries returns a copy of all applied entries, in apply order.
func (m *MockStateMachine) GetAppliedEntries() []raft.LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]raft.LogEntry, len(m.AppliedEntries))
	copy(result, m.AppliedEntries)
	return result
}

// Reset clears the mock state.
func (m *MockStateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppliedEntries = make([]raft.LogEntry, 0)
	m.ApplyCallCount = 0
}
