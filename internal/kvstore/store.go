// Package kvstore implements the storage contract on a flat
// string-to-string medium (bbolt, one bucket), simulating structured
// records and compound keys through key-name encoding and per-user JSON
// blobs.
//
// This backend exists for backward compatibility with data written by
// older app versions, so the on-disk layout is dictated by the legacy
// flat keys: a fixed name table for meta settings, one blob per
// (store, username) pair, a single JSON array for the outbox, and the
// monolithic classData blob for peer answers. Partial updates
// read-merge-write whole blobs; that granularity is a property of the
// legacy format and is preserved deliberately.
package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/apstatquiz/quizstore/internal/clock"
	"github.com/apstatquiz/quizstore/internal/storage"
)

var bucketName = []byte("kv")

// assumedQuota mirrors the ~5MB budget of the legacy medium, which
// exposes no official quota API.
const assumedQuota = 5 * 1024 * 1024

// Store is the flat key-value fallback backend.
type Store struct {
	db    *bolt.DB
	path  string
	clock clock.Clock

	availMu sync.Mutex
	avail   *bool // probe result, cached once determined
}

// Option configures a Store at open time.
type Option func(*Store)

// WithClock injects the clock used for updatedAt stamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open creates or opens the flat store file. The short lock timeout
// keeps a second process from hanging; it fails fast and the caller
// degrades to single-backend mode.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, clock: clock.System()}
	for _, opt := range opts {
		opt(s)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open flat store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open flat store: %w", err)
	}
	s.db = db
	return s, nil
}

// Close releases the file handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IsAvailable performs a real write-then-delete probe on first call;
// the medium can be present yet silently reject writes. The result is
// cached once determined.
func (s *Store) IsAvailable(ctx context.Context) bool {
	s.availMu.Lock()
	defer s.availMu.Unlock()
	if s.avail != nil {
		return *s.avail
	}
	ok := s.probe()
	s.avail = &ok
	return ok
}

func (s *Store) probe() bool {
	if s.db == nil {
		return false
	}
	const probeKey = "__quizstore_probe__"
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if err := b.Put([]byte(probeKey), []byte("1")); err != nil {
			return err
		}
		return b.Delete([]byte(probeKey))
	})
	return err == nil
}

// UsageInfo estimates the footprint as (len(key)+len(value))*2 bytes
// per entry (conservative UTF-16 estimate, matching how the legacy
// medium accounts) against the assumed fixed quota.
func (s *Store) UsageInfo(ctx context.Context) (*storage.Usage, error) {
	if s.db == nil {
		return nil, nil
	}
	var used int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			used += int64(len(k)+len(v)) * 2
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("usage info: %w", err)
	}
	return &storage.Usage{
		Used:        used,
		Quota:       assumedQuota,
		PercentUsed: float64(used) / float64(assumedQuota) * 100,
	}, nil
}

// getItem reads one flat entry. The second return is false when absent.
func (s *Store) getItem(key string) (string, bool, error) {
	if s.db == nil {
		return "", false, storage.ErrUnavailable
	}
	var value string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw != nil {
			value = string(raw)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("get item %q: %w", key, err)
	}
	return value, found, nil
}

func (s *Store) setItem(key, value string) error {
	if s.db == nil {
		return storage.ErrUnavailable
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return &storage.WriteError{Store: "flat", Key: key, Err: err}
	}
	return nil
}

func (s *Store) removeItem(key string) error {
	if s.db == nil {
		return storage.ErrUnavailable
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("remove item %q: %w", key, err)
	}
	return nil
}

// eachItem walks every flat entry.
func (s *Store) eachItem(fn func(key, value string) error) error {
	if s.db == nil {
		return storage.ErrUnavailable
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			return fn(string(k), string(v))
		})
	})
}
