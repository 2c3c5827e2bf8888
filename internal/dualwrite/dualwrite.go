// Package dualwrite composes a primary (structured, source of truth)
// adapter with a secondary (flat, best-effort mirror) adapter.
//
// Reads go to the primary only. Writes go to the primary first and its
// errors propagate; the secondary write runs after the primary has
// fully settled, and its failures are logged and swallowed. A crash
// between the two leaves the source of truth consistent and only the
// mirror stale, never the reverse.
package dualwrite

import (
	"context"
	"log/slog"
	"time"

	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// Adapter is the dual-write composition.
type Adapter struct {
	primary   storage.Adapter
	secondary storage.Adapter
	log       *slog.Logger
}

// New composes primary and secondary. The logger receives swallowed
// secondary-write failures; nil uses the default logger.
func New(primary, secondary storage.Adapter, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{primary: primary, secondary: secondary, log: log}
}

// Primary exposes the underlying source-of-truth adapter.
func (a *Adapter) Primary() storage.Adapter {
	return a.primary
}

func (a *Adapter) Get(ctx context.Context, store string, key record.Key) (*record.Record, error) {
	return a.primary.Get(ctx, store, key)
}

func (a *Adapter) GetAll(ctx context.Context, store, indexName, indexValue string) ([]record.Record, error) {
	return a.primary.GetAll(ctx, store, indexName, indexValue)
}

func (a *Adapter) GetAllForUser(ctx context.Context, store, username string) ([]record.Record, error) {
	return a.primary.GetAllForUser(ctx, store, username)
}

func (a *Adapter) Keys(ctx context.Context, store string) ([]record.Key, error) {
	return a.primary.Keys(ctx, store)
}

func (a *Adapter) UsageInfo(ctx context.Context) (*storage.Usage, error) {
	return a.primary.UsageInfo(ctx)
}

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.primary.IsAvailable(ctx)
}

// Set writes to the primary, then mirrors. Primary failure is real
// failure; mirror failure is logged and swallowed.
func (a *Adapter) Set(ctx context.Context, store string, key record.Key, fields map[string]any) error {
	if err := a.primary.Set(ctx, store, key, fields); err != nil {
		return err
	}
	if err := a.secondary.Set(ctx, store, key, fields); err != nil {
		a.log.Warn("secondary write failed", "store", store, "key", key.String(), "error", err)
	}
	return nil
}

func (a *Adapter) Remove(ctx context.Context, store string, key record.Key) error {
	if err := a.primary.Remove(ctx, store, key); err != nil {
		return err
	}
	if err := a.secondary.Remove(ctx, store, key); err != nil {
		a.log.Warn("secondary remove failed", "store", store, "key", key.String(), "error", err)
	}
	return nil
}

func (a *Adapter) Clear(ctx context.Context, store string) error {
	if err := a.primary.Clear(ctx, store); err != nil {
		return err
	}
	if err := a.secondary.Clear(ctx, store); err != nil {
		a.log.Warn("secondary clear failed", "store", store, "error", err)
	}
	return nil
}

// Primary-only capability passthrough. Outbox and persistence calls
// reach the primary when it supports them; otherwise a safe default or
// storage.ErrUnsupported.

func (a *Adapter) Enqueue(ctx context.Context, opType string, payload any) (int64, error) {
	if outbox, ok := a.primary.(storage.Outbox); ok {
		return outbox.Enqueue(ctx, opType, payload)
	}
	return 0, storage.ErrUnsupported
}

func (a *Adapter) GetPending(ctx context.Context) ([]record.OutboxItem, error) {
	if outbox, ok := a.primary.(storage.Outbox); ok {
		return outbox.GetPending(ctx)
	}
	return []record.OutboxItem{}, nil
}

func (a *Adapter) MarkInFlight(ctx context.Context, ids []int64) error {
	if outbox, ok := a.primary.(storage.Outbox); ok {
		return outbox.MarkInFlight(ctx, ids)
	}
	return storage.ErrUnsupported
}

func (a *Adapter) MarkFailed(ctx context.Context, ids []int64, cause string) error {
	if outbox, ok := a.primary.(storage.Outbox); ok {
		return outbox.MarkFailed(ctx, ids, cause)
	}
	return storage.ErrUnsupported
}

func (a *Adapter) MarkSynced(ctx context.Context, ids []int64) error {
	if outbox, ok := a.primary.(storage.Outbox); ok {
		return outbox.MarkSynced(ctx, ids)
	}
	return storage.ErrUnsupported
}

func (a *Adapter) FailedCount(ctx context.Context) (int, error) {
	if outbox, ok := a.primary.(storage.Outbox); ok {
		return outbox.FailedCount(ctx)
	}
	return 0, nil
}

func (a *Adapter) PruneFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	if outbox, ok := a.primary.(storage.Outbox); ok {
		return outbox.PruneFailed(ctx, olderThan)
	}
	return 0, storage.ErrUnsupported
}

func (a *Adapter) RequestPersistence(ctx context.Context) (bool, error) {
	if p, ok := a.primary.(storage.Persistence); ok {
		return p.RequestPersistence(ctx)
	}
	return false, nil
}

func (a *Adapter) IsPersisted(ctx context.Context) (bool, error) {
	if p, ok := a.primary.(storage.Persistence); ok {
		return p.IsPersisted(ctx)
	}
	return false, nil
}

var (
	_ storage.Adapter     = (*Adapter)(nil)
	_ storage.Outbox      = (*Adapter)(nil)
	_ storage.Persistence = (*Adapter)(nil)
)
