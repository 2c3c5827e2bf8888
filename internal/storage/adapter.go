// Package storage defines the uniform adapter contract every backend
// implements, the capability interfaces backends may additionally
// implement, the shared error taxonomy, and the outbox retry policy.
package storage

import (
	"context"
	"time"

	"github.com/apstatquiz/quizstore/internal/record"
)

// Adapter is the uniform storage contract. Every operation takes a
// context and may suspend; callers must not assume a write is durable
// until the call returns.
//
// Semantics shared by all implementations:
//   - Set with an existing key fully replaces the record's value fields
//     (upsert, no deep merge).
//   - Remove of an absent key is a no-op.
//   - GetAll without a filter returns every record in the store; with a
//     filter it returns records whose named index equals indexValue.
//   - Operations against an unavailable backend return nil/empty rather
//     than failing, so callers can degrade gracefully.
type Adapter interface {
	Get(ctx context.Context, store string, key record.Key) (*record.Record, error)
	Set(ctx context.Context, store string, key record.Key, fields map[string]any) error
	Remove(ctx context.Context, store string, key record.Key) error
	GetAll(ctx context.Context, store, indexName, indexValue string) ([]record.Record, error)
	GetAllForUser(ctx context.Context, store, username string) ([]record.Record, error)
	Clear(ctx context.Context, store string) error
	Keys(ctx context.Context, store string) ([]record.Key, error)

	// IsAvailable must be cheap to call repeatedly; a definitive
	// negative probe result is cached.
	IsAvailable(ctx context.Context) bool

	// UsageInfo is best-effort; nil when the backend cannot report it.
	UsageInfo(ctx context.Context) (*Usage, error)
}

// Usage is a best-effort storage footprint report.
type Usage struct {
	Used        int64   `json:"used"`
	Quota       int64   `json:"quota"`
	PercentUsed float64 `json:"percentUsed"`
}

// Outbox is the capability interface for backends that host the sync
// queue. Adapters either implement it fully or not at all; callers check
// with a type assertion, never by probing individual methods.
type Outbox interface {
	Enqueue(ctx context.Context, opType string, payload any) (int64, error)
	GetPending(ctx context.Context) ([]record.OutboxItem, error)
	MarkInFlight(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, ids []int64, cause string) error
	MarkSynced(ctx context.Context, ids []int64) error
	FailedCount(ctx context.Context) (int, error)
	PruneFailed(ctx context.Context, olderThan time.Duration) (int, error)
}

// Persistence is the capability interface for backends that can request
// eviction protection from the host environment.
type Persistence interface {
	RequestPersistence(ctx context.Context) (bool, error)
	IsPersisted(ctx context.Context) (bool, error)
}

// GetMeta reads one process-wide setting from the meta store,
// unwrapping the {key, value, updatedAt} envelope. Returns nil when the
// key is absent.
func GetMeta(ctx context.Context, a Adapter, key string) (any, error) {
	rec, err := a.Get(ctx, record.StoreMeta, record.NewKey(key))
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Fields["value"], nil
}

// SetMeta writes one process-wide setting into the meta store.
func SetMeta(ctx context.Context, a Adapter, key string, value any) error {
	return a.Set(ctx, record.StoreMeta, record.NewKey(key), map[string]any{"value": value})
}

// GetMetaString is GetMeta narrowed to string settings; non-string and
// absent values both come back empty.
func GetMetaString(ctx context.Context, a Adapter, key string) (string, error) {
	v, err := GetMeta(ctx, a, key)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}
