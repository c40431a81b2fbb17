package storage

import (
	"fmt"
	"sync"

	"consensus-engine/internal/raft"
)

// MemoryLog is an in-memory LogStorage. It keeps everything in a slice and
// loses all state on restart, which makes it suitable for tests and demos but
// not for production clusters.
type MemoryLog struct {
	mu sync.RWMutex
	// entries[0] holds the entry at log index 1.
	entries     []*raft.LogEntry
	currentTerm uint64
	votedFor    *raft.ServerID
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(entry *raft.LogEntry) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Index = uint64(len(m.entries)) + 1
	m.entries = append(m.entries, entry)
	return entry.Index, nil
}

func (m *MemoryLog) AppendEntries(entries []*raft.LogEntry) error {
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

func (m *MemoryLog) GetEntry(index uint64) (*raft.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index == 0 || index > uint64(len(m.entries)) {
		return nil, fmt.Errorf("log entry at index %d not found", index)
	}
	return m.entries[index-1], nil
}

func (m *MemoryLog) GetEntriesFrom(index uint64) ([]*raft.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index == 0 {
		index = 1
	}
	if index > uint64(len(m.entries)) {
		return nil, nil
	}
	tail := m.entries[index-1:]
	out := make([]*raft.LogEntry, len(tail))
	copy(out, tail)
	return out, nil
}

func (m *MemoryLog) GetTermAtIndex(index uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Index 0 is the "no entry" sentinel.
	if index == 0 {
		return 0, nil
	}
	if index > uint64(len(m.entries)) {
		return 0, fmt.Errorf("log entry at index %d not found", index)
	}
	return m.entries[index-1].Term, nil
}

func (m *MemoryLog) DeleteEntriesFrom(index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index == 0 {
		return fmt.Errorf("cannot delete from index 0")
	}
	if index > uint64(len(m.entries)) {
		return nil
	}
	m.entries = m.entries[:index-1]
	return nil
}

func (m *MemoryLog) Count() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.entries)), nil
}

func (m *MemoryLog) LastLogIndex() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.entries)), nil
}

func (m *MemoryLog) LastLogTerm() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return 0, nil
	}
	return m.entries[len(m.entries)-1].Term, nil
}

func (m *MemoryLog) GetCurrentTerm() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentTerm, nil
}

func (m *MemoryLog) SetCurrentTerm(term uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTerm = term
	return nil
}

func (m *MemoryLog) GetVotedFor() (*raft.ServerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.votedFor, nil
}

func (m *MemoryLog) SetVotedFor(candidate *raft.ServerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votedFor = candidate
	return nil
}

func (m *MemoryLog) Close() error {
	return nil
}
