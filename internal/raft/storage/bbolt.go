package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"consensus-engine/internal/raft"
)

var (
	// Bucket names
	logBucket      = []byte("logs")
	metadataBucket = []byte("metadata")

	// Metadata keys
	currentTermKey = []byte("currentTerm")
	votedForKey    = []byte("votedFor")
)

// BboltLog is a BBolt-backed LogStorage. Entries live in the log bucket keyed
// by their big-endian index, so a cursor walks them in log order; currentTerm
// and votedFor live in the metadata bucket, satisfying Figure 2's "updated on
// stable storage before responding to RPCs".
type BboltLog struct {
	conn *bbolt.DB
}

// NewBboltLog opens (or creates) a BBolt-backed log at the given path.
func NewBboltLog(path string) (*BboltLog, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(logBucket); err != nil {
			return fmt.Errorf("failed to create log bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(metadataBucket); err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BboltLog{conn: db}, nil
}

func (b *BboltLog) Append(entry *raft.LogEntry) (uint64, error) {
	var index uint64
	err := b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)

		index = lastIndexIn(bucket) + 1
		entry.Index = index

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}
		return bucket.Put(uint64ToBytes(index), data)
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

func (b *BboltLog) AppendEntries(entries []*raft.LogEntry) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)

		last := lastIndexIn(bucket)
		for _, entry := range entries {
			if entry.Index != last+1 {
				return fmt.Errorf("non-contiguous append: entry index %d, last index %d", entry.Index, last)
			}
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to marshal log entry: %w", err)
			}
			if err := bucket.Put(uint64ToBytes(entry.Index), data); err != nil {
				return err
			}
			last = entry.Index
		}
		return nil
	})
}

func (b *BboltLog) GetEntry(index uint64) (*raft.LogEntry, error) {
	var entry *raft.LogEntry
	err := b.conn.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		data := bucket.Get(uint64ToBytes(index))
		if data == nil {
			return fmt.Errorf("log entry at index %d not found", index)
		}

		entry = &raft.LogEntry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		return nil
	})
	return entry, err
}

func (b *BboltLog) GetEntriesFrom(index uint64) ([]*raft.LogEntry, error) {
	var entries []*raft.LogEntry
	err := b.conn.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(logBucket).Cursor()

		for k, v := cursor.Seek(uint64ToBytes(index)); k != nil; k, v = cursor.Next() {
			entry := &raft.LogEntry{}
			if err := json.Unmarshal(v, entry); err != nil {
				return fmt.Errorf("failed to unmarshal log entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

func (b *BboltLog) GetTermAtIndex(index uint64) (uint64, error) {
	if index == 0 {
		return 0, nil
	}
	entry, err := b.GetEntry(index)
	if err != nil {
		return 0, err
	}
	return entry.Term, nil
}

func (b *BboltLog) DeleteEntriesFrom(index uint64) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		cursor := bucket.Cursor()

		for k, _ := cursor.Seek(uint64ToBytes(index)); k != nil; k, _ = cursor.Next() {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BboltLog) Count() (uint64, error) {
	var count uint64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		count = uint64(tx.Bucket(logBucket).Stats().KeyN)
		return nil
	})
	return count, err
}

func (b *BboltLog) LastLogIndex() (uint64, error) {
	var lastIndex uint64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		lastIndex = lastIndexIn(tx.Bucket(logBucket))
		return nil
	})
	return lastIndex, err
}

func (b *BboltLog) LastLogTerm() (uint64, error) {
	var lastTerm uint64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(logBucket).Cursor().Last()
		if v == nil {
			lastTerm = 0
			return nil
		}

		entry := &raft.LogEntry{}
		if err := json.Unmarshal(v, entry); err != nil {
			return fmt.Errorf("failed to unmarshal last log entry: %w", err)
		}
		lastTerm = entry.Term
		return nil
	})
	return lastTerm, err
}

func (b *BboltLog) GetCurrentTerm() (uint64, error) {
	var term uint64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metadataBucket).Get(currentTermKey)
		if data == nil {
			term = 0
			return nil
		}
		term = bytesToUint64(data)
		return nil
	})
	return term, err
}

func (b *BboltLog) SetCurrentTerm(term uint64) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metadataBucket).Put(currentTermKey, uint64ToBytes(term))
	})
}

func (b *BboltLog) GetVotedFor() (*raft.ServerID, error) {
	var votedFor *raft.ServerID
	err := b.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metadataBucket).Get(votedForKey)
		if data == nil {
			votedFor = nil
			return nil
		}
		candidate := raft.ServerID(data)
		votedFor = &candidate
		return nil
	})
	return votedFor, err
}

func (b *BboltLog) SetVotedFor(candidate *raft.ServerID) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(metadataBucket)
		if candidate == nil {
			// A nil vote means a new term; drop the key.
			return bucket.Delete(votedForKey)
		}
		return bucket.Put(votedForKey, []byte(*candidate))
	})
}

// Close closes the storage connection.
func (b *BboltLog) Close() error {
	return b.conn.Close()
}

func lastIndexIn(bucket *bbolt.Bucket) uint64 {
	k, _ := bucket.Cursor().Last()
	if k == nil {
		return 0
	}
	return bytesToUint64(k)
}

// Helper functions for uint64 <-> []byte conversion
func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
