// Package convstore persists per-conversation message history in an
// embedded, transactional, write-ahead-logged key-value store. Reads run
// as MVCC snapshot transactions and never block each other or a writer;
// bolt's single writer serializes all Put calls, a superset of the
// per-thread serialization the conversation store requires.
package convstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/avast/retry-go"
	"github.com/klauspost/compress/gzip"
	bolt "go.etcd.io/bbolt"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/config"
	"github.com/dosco/nlsqld/internal/llm"
)

var bucketName = []byte("checkpoints")

// now is a package var so tests can stub the clock for Cleanup.
var now = time.Now

// checkpoint is the gzip-compressed JSON blob stored under each
// conversation id.
type checkpoint struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []llm.Message `json:"messages"`
	Version        uint64        `json:"version"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Store is a process singleton wrapping one bolt database file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bolt file at cfg.DBPath, retrying
// transient open failures (another process mid-compaction, a cold NFS
// mount) the same way internal/sqlexec retries opening a SQL connection.
func Open(cfg config.Conversation) (*Store, error) {
	attempts := cfg.DBRetryAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := cfg.DBRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var db *bolt.DB
	err := retry.Do(
		func() error {
			var openErr error
			db, openErr = bolt.Open(cfg.DBPath, 0o600, &bolt.Options{Timeout: time.Second})
			return openErr
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(delay),
	)
	if err != nil {
		return nil, apperr.Config("opening conversation store", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, apperr.Config("creating checkpoints bucket", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying file lock.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the full message history for conversationID, or (nil, 0,
// nil) if the thread has no checkpoint yet.
func (s *Store) Get(ctx context.Context, conversationID string) ([]llm.Message, uint64, error) {
	var cp *checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(conversationID))
		if raw == nil {
			return nil
		}
		var err error
		cp, err = decode(raw)
		return err
	})
	if err != nil {
		return nil, 0, apperr.Execution("reading checkpoint", err)
	}
	if cp == nil {
		return nil, 0, nil
	}
	return cp.Messages, cp.Version, nil
}

// Put replaces conversationID's stored history with messages, with compare-and-swap
// semantics: expectedVersion must match the stored version (0 for a
// thread with no checkpoint yet), or the write is rejected with a
// Conflict error and the caller's messages are discarded, never merged.
func (s *Store) Put(ctx context.Context, conversationID string, messages []llm.Message, expectedVersion uint64) (uint64, error) {
	var newVersion uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		raw := b.Get([]byte(conversationID))

		var current uint64
		if raw != nil {
			existing, err := decode(raw)
			if err != nil {
				return err
			}
			current = existing.Version
		}
		if current != expectedVersion {
			return apperr.Conflict("checkpoint version mismatch: another writer updated this conversation first")
		}

		newVersion = current + 1
		cp := checkpoint{
			ConversationID: conversationID,
			Messages:       messages,
			Version:        newVersion,
			UpdatedAt:      now(),
		}
		blob, err := encode(cp)
		if err != nil {
			return err
		}
		return b.Put([]byte(conversationID), blob)
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Cleanup removes every thread whose most recent checkpoint is older
// than maxAge, returning the number removed.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := now().Add(-maxAge)
	var removed int

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			cp, err := decode(v)
			if err != nil {
				return err
			}
			if cp.UpdatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, apperr.Execution("reaping stale checkpoints", err)
	}
	return removed, nil
}

// StartReaper runs Cleanup on interval until ctx is cancelled, in its own
// goroutine. The returned channel is closed once the reaper loop exits,
// so callers can wait for a clean shutdown.
func (s *Store) StartReaper(ctx context.Context, interval, maxAge time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.Cleanup(ctx, maxAge)
			}
		}
	}()
	return done
}

func encode(cp checkpoint) ([]byte, error) {
	payload, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(payload); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(raw []byte) (*checkpoint, error) {
	gr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	payload, err := io.ReadAll(gr)
	if err != nil {
		return nil, err
	}
	var cp checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
