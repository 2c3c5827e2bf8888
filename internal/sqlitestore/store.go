// Package sqlitestore implements the primary (structured) storage
// backend on SQLite. It owns the schema, the per-store tables and their
// key shapes, the outbox retry queue, and the capped diagnostics buffer.
//
// The structured store is the source of truth for all reads; the flat
// key-value backend only mirrors it. The store survives environments
// that aggressively clear flat storage, which is why migration moves
// legacy data here and never back.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/apstatquiz/quizstore/internal/clock"
	"github.com/apstatquiz/quizstore/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
// 2 - Added index on outbox(status) for pending scans
const currentSchemaVersion = 2

// Store is the SQLite-backed structured storage adapter.
// Safe for concurrent use; the connection handle is shared and guarded
// so a cooperative Close (cross-process schema upgrade) fails in-flight
// operations cleanly instead of touching a stale handle.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	clock clock.Clock

	// maxDiagnostics caps the diagnostics circular buffer.
	maxDiagnostics int
}

// Option configures a Store at open time.
type Option func(*Store)

// WithClock injects the clock used for updated_at stamps and outbox
// attempt times. Defaults to the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithDiagnosticsCap overrides the diagnostics buffer size.
func WithDiagnosticsCap(n int) Option {
	return func(s *Store) { s.maxDiagnostics = n }
}

// Open creates or opens the structured store at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Schema application is idempotent - safe to call multiple times, and
// safe to call again after Close (reopen).
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:           path,
		clock:          clock.System(),
		maxDiagnostics: 500,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s.db = db
	return s, nil
}

// Close releases the database handle. Operations issued after Close fail
// with storage.ErrStaleConnection; the facade reopens on next access.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path, for reopening after a
// cooperative close.
func (s *Store) Path() string {
	return s.path
}

// IsAvailable reports whether the handle is open and responsive.
func (s *Store) IsAvailable(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return false
	}
	return s.db.PingContext(ctx) == nil
}

// conn returns the live handle or ErrStaleConnection after Close.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return nil, storage.ErrStaleConnection
	}
	return s.db, nil
}

// RequestPersistence reports eviction protection. A file-backed SQLite
// database is durable by construction, so this always succeeds.
func (s *Store) RequestPersistence(ctx context.Context) (bool, error) {
	return true, nil
}

// IsPersisted is true for a file-backed store.
func (s *Store) IsPersisted(ctx context.Context) (bool, error) {
	return true, nil
}

// UsageInfo reports the database footprint against the page-count limit.
func (s *Store) UsageInfo(ctx context.Context) (*storage.Usage, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var pageCount, pageSize, maxPageCount int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("usage info: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("usage info: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA max_page_count").Scan(&maxPageCount); err != nil {
		return nil, fmt.Errorf("usage info: %w", err)
	}
	used := pageCount * pageSize
	quota := maxPageCount * pageSize
	usage := &storage.Usage{Used: used, Quota: quota}
	if quota > 0 {
		usage.PercentUsed = float64(used) / float64(quota) * 100
	}
	return usage, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
		version = 2
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV2 adds the outbox status index for existing databases.
// CREATE INDEX IF NOT EXISTS is a no-op when the index already exists,
// so this stays idempotent across opens.
func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_outbox_status
		ON outbox(status, last_attempt_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}
