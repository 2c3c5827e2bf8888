package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// Outbox sub-API. The outbox is append-only from the producer's side;
// only the sync consumer transitions status, and successful delivery
// deletes the item rather than retaining history.

// Enqueue adds a pending operation to the outbox and returns its id.
// Each item gets a UUIDv7 nonce so the remote end can dedupe a
// duplicate send when two consumers race the same item.
func (s *Store) Enqueue(ctx context.Context, opType string, payload any) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", opType, err)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO outbox (nonce, op_type, payload, status, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, 0)
	`, uuid.Must(uuid.NewV7()).String(), opType, string(raw), record.StatusPending, s.clock.Now().UnixMilli())
	if err != nil {
		return 0, &storage.WriteError{Store: record.StoreOutbox, Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", opType, err)
	}
	return id, nil
}

// GetPending returns every item currently eligible for delivery:
// pending items, plus failed items whose backoff has elapsed.
// Permanently failed items (attempts at the ceiling) never appear.
func (s *Store) GetPending(ctx context.Context) ([]record.OutboxItem, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, nonce, op_type, payload, status, created_at, attempts, last_attempt_at, last_error
		FROM outbox
		WHERE status = ? OR (status = ? AND attempts < ?)
		ORDER BY id ASC
	`, record.StatusPending, record.StatusFailed, storage.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("outbox pending: %w", err)
	}
	defer rows.Close()

	now := s.clock.Now()
	items := []record.OutboxItem{}
	for rows.Next() {
		item, err := scanOutboxItem(rows)
		if err != nil {
			return nil, err
		}
		if storage.ReadyForRetry(item, now) {
			items = append(items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox pending: %w", err)
	}
	return items, nil
}

// MarkInFlight transitions items to in_flight, incrementing attempts and
// stamping the attempt time. This happens before the network call so a
// crash mid-send surfaces as a counted failed attempt, not a silent
// pending retry forever.
func (s *Store) MarkInFlight(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE outbox
		SET status = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE id IN (%s)
	`, idHoles(len(ids)))
	args := append([]any{record.StatusInFlight, s.clock.Now().UnixMilli()}, idArgs(ids)...)
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("outbox mark in-flight: %w", err)
	}
	return nil
}

// MarkFailed transitions items to failed and records the cause.
// Attempts were already incremented at MarkInFlight.
func (s *Store) MarkFailed(ctx context.Context, ids []int64, cause string) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE outbox SET status = ?, last_error = ? WHERE id IN (%s)
	`, idHoles(len(ids)))
	args := append([]any{record.StatusFailed, cause}, idArgs(ids)...)
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("outbox mark failed: %w", err)
	}
	return nil
}

// MarkSynced deletes delivered items. Success is not retained as
// history.
func (s *Store) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM outbox WHERE id IN (%s)`, idHoles(len(ids)))
	if _, err := db.ExecContext(ctx, query, idArgs(ids)...); err != nil {
		return fmt.Errorf("outbox mark synced: %w", err)
	}
	return nil
}

// FailedCount counts permanently failed items, surfaced for the
// operator/teacher view.
func (s *Store) FailedCount(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox WHERE status = ? AND attempts >= ?
	`, record.StatusFailed, storage.MaxAttempts).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("outbox failed count: %w", err)
	}
	return n, nil
}

// PruneFailed deletes permanently failed items whose last attempt is
// older than the cutoff. Returns the number pruned.
func (s *Store) PruneFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	cutoff := s.clock.Now().Add(-olderThan).UnixMilli()
	res, err := db.ExecContext(ctx, `
		DELETE FROM outbox WHERE status = ? AND attempts >= ? AND last_attempt_at < ?
	`, record.StatusFailed, storage.MaxAttempts, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox prune: %w", err)
	}
	return int(n), nil
}

// ListOutbox returns every outbox item regardless of status, for
// inspection tooling and tests.
func (s *Store) ListOutbox(ctx context.Context) ([]record.OutboxItem, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, nonce, op_type, payload, status, created_at, attempts, last_attempt_at, last_error
		FROM outbox ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("outbox list: %w", err)
	}
	defer rows.Close()

	items := []record.OutboxItem{}
	for rows.Next() {
		item, err := scanOutboxItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox list: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxItem(row rowScanner) (record.OutboxItem, error) {
	var item record.OutboxItem
	var payload string
	err := row.Scan(&item.ID, &item.Nonce, &item.OpType, &payload, &item.Status,
		&item.CreatedAt, &item.Attempts, &item.LastAttemptAt, &item.LastError)
	if err != nil {
		return item, fmt.Errorf("scan outbox item: %w", err)
	}
	item.Payload = json.RawMessage(payload)
	return item, nil
}

func idHoles(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
