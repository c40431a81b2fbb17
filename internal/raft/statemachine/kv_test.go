package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"consensus-engine/internal/raft"
)

func command(index uint64, cmd string) *raft.LogEntry {
	return &raft.LogEntry{Index: index, Term: 1, Type: raft.EntryCommand, Command: []byte(cmd)}
}

func TestKVStore_Apply(t *testing.T) {
	t.Run("sets a key", func(t *testing.T) {
		kv := NewKVStore("server-1")
		kv.Apply(command(1, "SET color=blue"))

		value, ok := kv.Get("color")
		assert.True(t, ok)
		assert.Equal(t, "blue", value)
	})

	t.Run("overwrites a key", func(t *testing.T) {
		kv := NewKVStore("server-1")
		kv.Apply(command(1, "SET color=blue"))
		kv.Apply(command(2, "SET color=red"))

		value, _ := kv.Get("color")
		assert.Equal(t, "red", value)
	})

	t.Run("deletes a key", func(t *testing.T) {
		kv := NewKVStore("server-1")
		kv.Apply(command(1, "SET color=blue"))
		kv.Apply(command(2, "DEL color"))

		_, ok := kv.Get("color")
		assert.False(t, ok)
		assert.Zero(t, kv.Len())
	})

	t.Run("re-applying is idempotent", func(t *testing.T) {
		kv := NewKVStore("server-1")
		kv.Apply(command(1, "SET color=blue"))
		kv.Apply(command(1, "SET color=blue"))

		assert.Equal(t, 1, kv.Len())
	})

	t.Run("ignores non-command entries", func(t *testing.T) {
		kv := NewKVStore("server-1")
		kv.Apply(&raft.LogEntry{Index: 1, Term: 1, Type: raft.EntryNoop})

		assert.Zero(t, kv.Len())
	})

	t.Run("ignores malformed commands", func(t *testing.T) {
		kv := NewKVStore("server-1")
		kv.Apply(command(1, "SET"))
		kv.Apply(command(2, "SET novalue"))
		kv.Apply(command(3, "FROB x"))
		kv.Apply(command(4, ""))

		assert.Zero(t, kv.Len())
	})

	t.Run("case-insensitive verbs", func(t *testing.T) {
		kv := NewKVStore("server-1")
		kv.Apply(command(1, "set color=blue"))

		value, ok := kv.Get("color")
		assert.True(t, ok)
		assert.Equal(t, "blue", value)
	})
}
