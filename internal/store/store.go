package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/joelklabo/hassbuddy/internal/core"
)

var (
	bucketHistory     = []byte("history")
	bucketAutomations = []byte("automations")
	bucketCursor      = []byte("cursors")
	bucketProcessed   = []byte("processed")
	bucketMessages    = []byte("messages")
)

// Store wraps a BoltDB instance for small, durable state.
type Store struct {
	db *bolt.DB
}

// New opens (or creates) the database at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketHistory, bucketAutomations, bucketCursor, bucketProcessed, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendHistory adds entry to the conversation, keeping the newest max entries.
func (s *Store) AppendHistory(conversationID string, entry []byte, max int) error {
	if conversationID == "" {
		return errors.New("empty conversation id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketHistory).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), entry); err != nil {
			return err
		}
		if max <= 0 {
			return nil
		}
		return trimOldest(b, max)
	})
}

// History returns up to limit of the newest entries, oldest first.
func (s *Store) History(conversationID string, limit int) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory).Bucket([]byte(conversationID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Prev() {
			out = append(out, append([]byte(nil), v...))
		}
		return nil
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

// RecordAutomation logs a created automation.
func (s *Store) RecordAutomation(e core.AutomationEntry) error {
	if e.ID == "" {
		return errors.New("empty automation id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAutomations)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// RecentAutomations returns up to limit logged automations, newest first.
func (s *Store) RecentAutomations(limit int) ([]core.AutomationEntry, error) {
	var out []core.AutomationEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAutomations).Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Prev() {
			var e core.AutomationEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode automation entry: %w", err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// LastCursor returns the last event timestamp we processed for this key.
func (s *Store) LastCursor(key string) (time.Time, error) {
	var ts time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCursor).Get([]byte(key))
		if v == nil {
			return nil
		}
		// timestamps are stored as RFC3339
		parsed, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return err
		}
		ts = parsed
		return nil
	})
	return ts, err
}

// SaveCursor persists the last event timestamp for a key.
func (s *Store) SaveCursor(key string, t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursor).Put([]byte(key), []byte(t.UTC().Format(time.RFC3339Nano)))
	})
}

// AlreadyProcessed checks if we've handled an event ID; if not, it marks it processed.
func (s *Store) AlreadyProcessed(id string) (bool, error) {
	if id == "" {
		return false, errors.New("empty event id")
	}
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcessed)
		if v := b.Get([]byte(id)); v != nil {
			existed = true
			return nil
		}
		return b.Put([]byte(id), []byte{1})
	})
	return existed, err
}

// RecentMessageSeen returns true if the same sender/plaintext was seen within the window.
// It also records the current occurrence.
func (s *Store) RecentMessageSeen(sender, plaintext string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = 30 * time.Second
	}
	sender = strings.ToLower(strings.TrimSpace(sender))
	h := sha256.Sum256([]byte(strings.TrimSpace(plaintext)))
	key := sender + ":" + hex.EncodeToString(h[:])
	now := time.Now().UTC()

	var seen bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if v := b.Get([]byte(key)); v != nil {
			if ts, err := time.Parse(time.RFC3339Nano, string(v)); err == nil && now.Sub(ts) < window {
				seen = true
			}
		}
		return b.Put([]byte(key), []byte(now.Format(time.RFC3339Nano)))
	})
	return seen, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func trimOldest(b *bolt.Bucket, max int) error {
	n := b.Stats().KeyN
	if n <= max {
		return nil
	}
	var stale [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil && len(stale) < n-max; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
