package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// table maps a logical store onto its SQL table and key columns.
type table struct {
	name    string
	keyCols []string
	userCol string
}

var tables = map[string]table{
	record.StoreMeta:        {name: "meta", keyCols: []string{"key"}},
	record.StoreAnswers:     {name: "answers", keyCols: []string{"username", "question_id"}, userCol: "username"},
	record.StoreReasons:     {name: "reasons", keyCols: []string{"username", "question_id"}, userCol: "username"},
	record.StoreAttempts:    {name: "attempts", keyCols: []string{"username", "question_id"}, userCol: "username"},
	record.StoreProgress:    {name: "progress", keyCols: []string{"username", "lesson_key"}, userCol: "username"},
	record.StoreBadges:      {name: "badges", keyCols: []string{"username", "badge_id"}, userCol: "username"},
	record.StoreCharts:      {name: "charts", keyCols: []string{"username", "chart_id"}, userCol: "username"},
	record.StorePreferences: {name: "preferences", keyCols: []string{"username"}, userCol: "username"},
	record.StoreSprites:     {name: "sprites", keyCols: []string{"username"}, userCol: "username"},
	record.StorePeerCache:   {name: "peer_cache", keyCols: []string{"peer_username", "question_id"}, userCol: "peer_username"},
}

// resolve returns the spec and table for a keyed store.
func resolve(store string) (record.Spec, table, error) {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return record.Spec{}, table{}, err
	}
	tbl, ok := tables[store]
	if !ok {
		return record.Spec{}, table{}, fmt.Errorf("store %q has no keyed access", store)
	}
	return spec, tbl, nil
}

// Get returns the record at key, or nil if absent.
func (s *Store) Get(ctx context.Context, store string, key record.Key) (*record.Record, error) {
	spec, tbl, err := resolve(store)
	if err != nil {
		return nil, err
	}
	key, err = record.NormalizeKey(spec, key)
	if err != nil {
		return nil, err
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT value, updated_at FROM %s WHERE %s`, tbl.name, keyWhere(tbl))
	var raw string
	var updatedAt int64
	row := db.QueryRowContext(ctx, query, keyArgs(key)...)
	if err := row.Scan(&raw, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s[%s]: %w", store, key, err)
	}
	return hydrate(spec, key, raw, updatedAt)
}

// Set upserts the record at key. The key parts are folded into the
// stored fields so that records stay self-describing.
func (s *Store) Set(ctx context.Context, store string, key record.Key, fields map[string]any) error {
	spec, tbl, err := resolve(store)
	if err != nil {
		return err
	}
	key, err = record.NormalizeKey(spec, key)
	if err != nil {
		return err
	}
	db, err := s.conn()
	if err != nil {
		return err
	}

	merged := make(map[string]any, len(fields)+len(key))
	for k, v := range fields {
		merged[k] = v
	}
	record.ReconcileKey(spec, key, merged)
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("set %s[%s]: %w", store, key, err)
	}

	cols := strings.Join(tbl.keyCols, ", ")
	holes := strings.TrimSuffix(strings.Repeat("?, ", len(tbl.keyCols)), ", ")
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, value, updated_at) VALUES (%s, ?, ?)
		ON CONFLICT (%s) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, tbl.name, cols, holes, cols)

	args := append(keyArgs(key), string(raw), s.clock.Now().UnixMilli())
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return &storage.WriteError{Store: store, Key: key.String(), Err: err}
	}
	return nil
}

// Remove deletes the record at key. Absent keys are a no-op.
func (s *Store) Remove(ctx context.Context, store string, key record.Key) error {
	spec, tbl, err := resolve(store)
	if err != nil {
		return err
	}
	key, err = record.NormalizeKey(spec, key)
	if err != nil {
		return err
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s`, tbl.name, keyWhere(tbl))
	if _, err := db.ExecContext(ctx, query, keyArgs(key)...); err != nil {
		return fmt.Errorf("remove %s[%s]: %w", store, key, err)
	}
	return nil
}

// GetAll returns all records in a store, optionally filtered by the
// username index. Results are ordered by key for determinism.
func (s *Store) GetAll(ctx context.Context, store, indexName, indexValue string) ([]record.Record, error) {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return nil, err
	}
	if spec.AutoKey() {
		return s.getAllAuto(ctx, store)
	}
	_, tbl, err := resolve(store)
	if err != nil {
		return nil, err
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s, value, updated_at FROM %s`,
		strings.Join(tbl.keyCols, ", "), tbl.name)
	var args []any
	if indexName != "" {
		if indexName != record.IndexUsername || tbl.userCol == "" {
			return nil, fmt.Errorf("store %q has no index %q", store, indexName)
		}
		query += fmt.Sprintf(` WHERE %s = ?`, tbl.userCol)
		args = append(args, record.NormalizeUsername(indexValue))
	}
	query += fmt.Sprintf(` ORDER BY %s`, strings.Join(tbl.keyCols, ", "))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", store, err)
	}
	defer rows.Close()

	records := []record.Record{}
	for rows.Next() {
		keyParts := make([]string, len(tbl.keyCols))
		dest := make([]any, 0, len(tbl.keyCols)+2)
		for i := range keyParts {
			dest = append(dest, &keyParts[i])
		}
		var raw string
		var updatedAt int64
		dest = append(dest, &raw, &updatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("get all %s: %w", store, err)
		}
		rec, err := hydrate(spec, record.Key(keyParts), raw, updatedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get all %s: %w", store, err)
	}
	return records, nil
}

// GetAllForUser is sugar for GetAll filtered on the username index.
func (s *Store) GetAllForUser(ctx context.Context, store, username string) ([]record.Record, error) {
	return s.GetAll(ctx, store, record.IndexUsername, username)
}

// Clear wipes an entire store.
func (s *Store) Clear(ctx context.Context, store string) error {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return err
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	// outbox and diagnostics tables share their store names
	name := spec.Name
	if tbl, ok := tables[store]; ok {
		name = tbl.name
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, name)); err != nil {
		return fmt.Errorf("clear %s: %w", store, err)
	}
	return nil
}

// Keys lists every key in a store, ordered.
func (s *Store) Keys(ctx context.Context, store string) ([]record.Key, error) {
	_, tbl, err := resolve(store)
	if err != nil {
		return nil, err
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	cols := strings.Join(tbl.keyCols, ", ")
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s`, cols, tbl.name, cols))
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", store, err)
	}
	defer rows.Close()

	keys := []record.Key{}
	for rows.Next() {
		parts := make([]string, len(tbl.keyCols))
		dest := make([]any, len(parts))
		for i := range parts {
			dest[i] = &parts[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("keys %s: %w", store, err)
		}
		keys = append(keys, record.Key(parts))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys %s: %w", store, err)
	}
	return keys, nil
}

// getAllAuto scans an auto-keyed store (outbox, diagnostics) into
// generic records, mostly for inspection tooling and full-scan tests.
func (s *Store) getAllAuto(ctx context.Context, store string) ([]record.Record, error) {
	switch store {
	case record.StoreOutbox:
		items, err := s.ListOutbox(ctx)
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
				Key:    record.NewKey(strconv.FormatInt(item.ID, 10)),
				Fields: fields,
			})
		}
		return records, nil
	case record.StoreDiagnostics:
		events, err := s.ListDiagnostics(ctx)
		if err != nil {
			return nil, err
		}
		records := make([]record.Record, 0, len(events))
		for _, ev := range events {
			fields, err := record.Encode(ev)
			if err != nil {
				return nil, err
			}
			records = append(records, record.Record{
				Key:    record.NewKey(strconv.FormatInt(ev.ID, 10)),
				Fields: fields,
			})
		}
		return records, nil
	default:
		return nil, fmt.Errorf("store %q has no scan support", store)
	}
}

// keyWhere builds "col1 = ? AND col2 = ?" for a table's key columns.
func keyWhere(tbl table) string {
	parts := make([]string, len(tbl.keyCols))
	for i, col := range tbl.keyCols {
		parts[i] = col + " = ?"
	}
	return strings.Join(parts, " AND ")
}

func keyArgs(key record.Key) []any {
	args := make([]any, len(key))
	for i, part := range key {
		args[i] = part
	}
	return args
}

var (
	_ storage.Adapter     = (*Store)(nil)
	_ storage.Outbox      = (*Store)(nil)
	_ storage.Persistence = (*Store)(nil)
)

// hydrate decodes a stored JSON value into a Record, re-reconciling the
// key fields in case the row predates key folding.
func hydrate(spec record.Spec, key record.Key, raw string, updatedAt int64) (*record.Record, error) {
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("hydrate %s[%s]: %w", spec.Name, key, err)
	}
	record.ReconcileKey(spec, key, fields)
	return &record.Record{Key: key, Fields: fields, UpdatedAt: updatedAt}, nil
}
