package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// Flat outbox: a single key holding a JSON array. Enqueue appends,
// MarkSynced filters out by id. Used only when the structured store is
// unavailable; the array rewrite per operation is the cost of the
// medium.

func (s *Store) readOutbox() ([]record.OutboxItem, error) {
	raw, found, err := s.getItem(outboxKey)
	if err != nil || !found {
		return []record.OutboxItem{}, err
	}
	items := []record.OutboxItem{}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	return items, nil
}

func (s *Store) writeOutbox(items []record.OutboxItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return s.setItem(outboxKey, string(raw))
}

// Enqueue appends a pending operation and returns its assigned id.
func (s *Store) Enqueue(ctx context.Context, opType string, payload any) (int64, error) {
	items, err := s.readOutbox()
	if err != nil {
		return 0, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", opType, err)
	}
	var id int64 = 1
	for _, item := range items {
		if item.ID >= id {
			id = item.ID + 1
		}
	}
	items = append(items, record.OutboxItem{
		ID:        id,
		Nonce:     uuid.Must(uuid.NewV7()).String(),
		OpType:    opType,
		Payload:   json.RawMessage(raw),
		Status:    record.StatusPending,
		CreatedAt: s.clock.Now().UnixMilli(),
	})
	if err := s.writeOutbox(items); err != nil {
		return 0, err
	}
	return id, nil
}

// GetPending returns items eligible for delivery.
func (s *Store) GetPending(ctx context.Context) ([]record.OutboxItem, error) {
	items, err := s.readOutbox()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	pending := []record.OutboxItem{}
	for _, item := range items {
		if storage.ReadyForRetry(item, now) {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

// MarkInFlight transitions items to in_flight and counts the attempt.
func (s *Store) MarkInFlight(ctx context.Context, ids []int64) error {
	return s.updateOutbox(ids, func(item *record.OutboxItem) {
		item.Status = record.StatusInFlight
		item.Attempts++
		item.LastAttemptAt = s.clock.Now().UnixMilli()
	})
}

// MarkFailed transitions items to failed with the cause.
func (s *Store) MarkFailed(ctx context.Context, ids []int64, cause string) error {
	return s.updateOutbox(ids, func(item *record.OutboxItem) {
		item.Status = record.StatusFailed
		item.LastError = cause
	})
}

// MarkSynced removes delivered items from the array.
func (s *Store) MarkSynced(ctx context.Context, ids []int64) error {
	items, err := s.readOutbox()
	if err != nil {
		return err
	}
	keep := items[:0]
	for _, item := range items {
		if !containsID(ids, item.ID) {
			keep = append(keep, item)
		}
	}
	return s.writeOutbox(keep)
}

// FailedCount counts permanently failed items.
func (s *Store) FailedCount(ctx context.Context) (int, error) {
	items, err := s.readOutbox()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range items {
		if item.Status == record.StatusFailed && item.Attempts >= storage.MaxAttempts {
			n++
		}
	}
	return n, nil
}

// PruneFailed drops permanently failed items older than the cutoff.
func (s *Store) PruneFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	items, err := s.readOutbox()
	if err != nil {
		return 0, err
	}
	cutoff := s.clock.Now().Add(-olderThan).UnixMilli()
	keep := items[:0]
	pruned := 0
	for _, item := range items {
		if item.Status == record.StatusFailed && item.Attempts >= storage.MaxAttempts && item.LastAttemptAt < cutoff {
			pruned++
			continue
		}
		keep = append(keep, item)
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, s.writeOutbox(keep)
}

func (s *Store) updateOutbox(ids []int64, apply func(*record.OutboxItem)) error {
	if len(ids) == 0 {
		return nil
	}
	items, err := s.readOutbox()
	if err != nil {
		return err
	}
	for i := range items {
		if containsID(ids, items[i].ID) {
			apply(&items[i])
		}
	}
	return s.writeOutbox(items)
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func (s *Store) getAllOutbox() ([]record.Record, error) {
	items, err := s.readOutbox()
	if err != nil {
		return nil, err
	}
	records := make([]record.Record, 0, len(items))
	for _, item := range items {
		fields, err := record.Encode(item)
		if err != nil {
			return nil, err
		}
		records = append(records, record.Record{
			Key:    record.NewKey(fmt.Sprintf("%d", item.ID)),
			Fields: fields,
		})
	}
	return records, nil
}

var _ storage.Outbox = (*Store)(nil)
