package statemachine

import (
	"log"
	"strings"
	"sync"

	"consensus-engine/internal/raft"
)

// KVStore is a simple key-value store implementing the raft.StateMachine
// contract. Commands are "SET key=value" or "DEL key". Re-applying a command
// is harmless, which makes the store safe under the at-least-once delivery of
// the replication cycle.
type KVStore struct {
	mu    sync.RWMutex
	store map[string]string
	id    string // server ID for logging
}

// NewKVStore creates a new key-value state machine.
func NewKVStore(serverID string) *KVStore {
	return &KVStore{
		store: make(map[string]string),
		id:    serverID,
	}
}

// Apply applies one committed command to the store. Non-command entries are
// ignored.
func (kv *KVStore) Apply(entry *raft.LogEntry) {
	if entry.Type != raft.EntryCommand {
		return
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	parts := strings.Fields(string(entry.Command))
	if len(parts) == 0 {
		return
	}

	switch strings.ToUpper(parts[0]) {
	case "SET":
		if len(parts) < 2 {
			return
		}
		pair := strings.SplitN(parts[1], "=", 2)
		if len(pair) != 2 {
			return
		}
		kv.store[pair[0]] = pair[1]
		log.Printf("[KV-%s] applied SET %s=%s (index=%d)", kv.id, pair[0], pair[1], entry.Index)
	case "DEL":
		if len(parts) < 2 {
			return
		}
		delete(kv.store, parts[1])
		log.Printf("[KV-%s] applied DEL %s (index=%d)", kv.id, parts[1], entry.Index)
	default:
		log.Printf("[KV-%s] unknown command %q (index=%d)", kv.id, string(entry.Command), entry.Index)
	}
}

// Get returns the value for a key and whether it is present.
func (kv *KVStore) Get(key string) (string, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	value, ok := kv.store[key]
	return value, ok
}

// Len returns the number of keys in the store.
func (kv *KVStore) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.store)
}
