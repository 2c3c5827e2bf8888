// Package syncer drives the outbox: it periodically collects eligible
// items, marks them in-flight, pushes them to the relay through a
// Pusher, and records the outcome.
//
// The read-mark-push-mark sequence is not wrapped in a cross-step lock;
// two concurrent consumers (two tabs, two processes) can deliver the
// same item twice. Payloads therefore carry the per-item nonce and the
// remote end upserts idempotently on (username, questionId).
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/apstatquiz/quizstore/internal/storage"
)

// Envelope is one outbox item on the wire.
type Envelope struct {
	Nonce   string          `json:"nonce"`
	OpType  string          `json:"opType"`
	Payload json.RawMessage `json:"payload"`
}

// Pusher delivers a batch to the remote relay. A batch either fully
// succeeds or fails as a unit; the remote end tolerates replays.
type Pusher interface {
	Push(ctx context.Context, batch []Envelope) error
}

// Consumer is the single logical outbox consumer.
type Consumer struct {
	outbox storage.Outbox
	pusher Pusher
	log    *slog.Logger
}

// New creates a Consumer. A nil logger uses the default.
func New(outbox storage.Outbox, pusher Pusher, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{outbox: outbox, pusher: pusher, log: log}
}

// RunOnce performs one delivery cycle and returns how many items were
// synced. Items are marked in-flight before the push so a crash
// mid-send shows up as a counted attempt, never a silent pending retry.
func (c *Consumer) RunOnce(ctx context.Context) (int, error) {
	items, err := c.outbox.GetPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(items))
	batch := make([]Envelope, len(items))
	for i, item := range items {
		ids[i] = item.ID
		batch[i] = Envelope{Nonce: item.Nonce, OpType: item.OpType, Payload: item.Payload}
	}

	if err := c.outbox.MarkInFlight(ctx, ids); err != nil {
		return 0, err
	}
	if err := c.pusher.Push(ctx, batch); err != nil {
		c.log.Warn("outbox push failed", "items", len(ids), "error", err)
		if markErr := c.outbox.MarkFailed(ctx, ids, err.Error()); markErr != nil {
			return 0, markErr
		}
		return 0, nil
	}
	if err := c.outbox.MarkSynced(ctx, ids); err != nil {
		return 0, err
	}
	c.log.Debug("outbox synced", "items", len(ids))
	return len(ids), nil
}

// Run cycles until the context is cancelled.
func (c *Consumer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := c.RunOnce(ctx); err != nil {
			c.log.Warn("outbox cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
