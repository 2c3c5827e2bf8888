package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apstatquiz/quizstore/internal/record"
)

// AppendDiagnostic adds an event to the diagnostics buffer and trims it
// back to the configured cap, oldest first. Diagnostics never go through
// the dual-write mirror; high-volume debug noise stays out of the legacy
// flat store.
func (s *Store) AppendDiagnostic(ctx context.Context, ev record.DiagnosticEvent) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	details := "{}"
	if ev.Details != nil {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("append diagnostic: %w", err)
		}
		details = string(raw)
	}
	ts := ev.Timestamp
	if ts == 0 {
		ts = s.clock.Now().UnixMilli()
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO diagnostics (event_type, timestamp, session_id, details)
		VALUES (?, ?, ?, ?)
	`, ev.EventType, ts, ev.SessionID, details); err != nil {
		return fmt.Errorf("append diagnostic: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		DELETE FROM diagnostics WHERE id NOT IN (
			SELECT id FROM diagnostics ORDER BY id DESC LIMIT ?
		)
	`, s.maxDiagnostics); err != nil {
		return fmt.Errorf("trim diagnostics: %w", err)
	}
	return nil
}

// ListDiagnostics returns buffered events, oldest first.
func (s *Store) ListDiagnostics(ctx context.Context) ([]record.DiagnosticEvent, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, session_id, details
		FROM diagnostics ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list diagnostics: %w", err)
	}
	defer rows.Close()

	events := []record.DiagnosticEvent{}
	for rows.Next() {
		var ev record.DiagnosticEvent
		var details string
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Timestamp, &ev.SessionID, &details); err != nil {
			return nil, fmt.Errorf("list diagnostics: %w", err)
		}
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
				return nil, fmt.Errorf("list diagnostics: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list diagnostics: %w", err)
	}
	return events, nil
}
