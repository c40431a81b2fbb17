package mocks

import (
	"fmt"
	"sync"

	"consensus-engine/internal/raft"
)

// MockLogStorage is a mock implementation of raft.LogStorage for testing.
// Each operation has an injectable error that, when set, is returned before
// the operation touches any state.
type MockLogStorage struct {
	mu       sync.RWMutex
	entries  []*raft.LogEntry
	term     uint64
	votedFor *raft.ServerID

	// Error injection for testing.
	AppendError            error
	AppendEntriesError     error
	GetEntryError          error
	GetEntriesFromError    error
	GetTermAtIndexError    error
	DeleteEntriesFromError error
	CountError             error
	LastLogIndexError      error
	LastLogTermError       error
	GetCurrentTermError    error
	SetCurrentTermError    error
	GetVotedForError       error
	SetVotedForError       error
	CloseError             error
}

// NewMockLogStorage creates a new mock log storage.
func NewMockLogStorage() *MockLogStorage {
	return &MockLogStorage{}
}

func (m *MockLogStorage) Append(entry *raft.LogEntry) (uint64, error) {
	if m.AppendError != nil {
		return 0, m.AppendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Index = uint64(len(m.entries)) + 1
	m.entries = append(m.entries, entry)
	return entry.Index, nil
}

func (m *MockLogStorage) AppendEntries(entries []*raft.LogEntry) error {
	if m.AppendEntriesError != nil {
		return m.AppendEntriesError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		if entry.Index != uint64(len(m.entries))+1 {
			return fmt.Errorf("non-contiguous append: entry index %d, last index %d", entry.Index, len(m.entries))
		}
		m.entries = append(m.entries, entry)
	}
	return nil
}

func (m *MockLogStorage) GetEntry(index uint64) (*raft.LogEntry, error) {
	if m.GetEntryError != nil {
		return nil, m.GetEntryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index == 0 || index > uint64(len(m.entries)) {
		return nil, fmt.Errorf("entry not found at index %d", index)
	}
	return m.entries[index-1], nil
}

func (m *MockLogStorage) GetEntriesFrom(index uint64) ([]*raft.LogEntry, error) {
	if m.GetEntriesFromError != nil {
		return nil, m.GetEntriesFromError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index == 0 || index > uint64(len(m.entries)) {
		return nil, nil
	}
	result := make([]*raft.LogEntry, len(m.entries)-int(index)+1)
	copy(result, m.entries[index-1:])
	return result, nil
}

func (m *MockLogStorage) GetTermAtIndex(index uint64) (uint64, error) {
	if m.GetTermAtIndexError != nil {
		return 0, m.GetTermAtIndexError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index == 0 {
		return 0, nil
	}
	if index > uint64(len(m.entries)) {
		return 0, fmt.Errorf("entry not found at index %d", index)
	}
	return m.entries[index-1].Term, nil
}

func (m *MockLogStorage) DeleteEntriesFrom(index uint64) error {
	if m.DeleteEntriesFromError != nil {
		return m.DeleteEntriesFromError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if index == 0 || index > uint64(len(m.entries)) {
		return nil
	}
	m.entries = m.entries[:index-1]
	return nil
}

func (m *MockLogStorage) Count() (uint64, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.entries)), nil
}

func (m *MockLogStorage) LastLogIndex() (uint64, error) {
	if m.LastLogIndexError != nil {
		return 0, m.LastLogIndexError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.entries)), nil
}

func (m *MockLogStorage) LastLogTerm() (uint64, error) {
	if m.LastLogTermError != nil {
		return 0, m.LastLogTermError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return 0, nil
	}
	return m.entries[len(m.entries)-1].Term, nil
}

func (m *MockLogStorage) GetCurrentTerm() (uint64, error) {
	if m.GetCurrentTermError != nil {
		return 0, m.GetCurrentTermError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.term, nil
}

func (m *MockLogStorage) SetCurrentTerm(term uint64) error {
	if m.SetCurrentTermError != nil {
		return m.SetCurrentTermError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term = term
	return nil
}

func (m *MockLogStorage) GetVotedFor() (*raft.ServerID, error) {
	if m.GetVotedForError != nil {
		return nil, m.GetVotedForError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.votedFor, nil
}

func (m *MockLogStorage) SetVotedFor(candidate *raft.ServerID) error {
	if m.SetVotedForError != nil {
		return m.SetVotedForError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votedFor = candidate
	return nil
}

func (m *MockLogStorage) Close() error {
	return m.CloseError
}
