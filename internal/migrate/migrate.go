// Package migrate implements the one-time import of legacy flat
// key-value data into the structured store.
//
// The runner is idempotent: a completion flag in the structured store's
// meta store gates all future runs, and the flag is written
// unconditionally at the end even when individual steps failed. Partial
// migration must not retry forever and risk duplicate imports; step
// errors are collected and returned, never thrown.
package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/apstatquiz/quizstore/internal/clock"
	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// Result reports what a run did. Errors holds step failures; the run
// itself never fails.
type Result struct {
	Migrated  bool     `json:"migrated"`
	ItemCount int      `json:"itemCount"`
	Errors    []string `json:"errors,omitempty"`
}

// Runner copies legacy flat data into the structured store once.
type Runner struct {
	primary storage.Adapter
	legacy  storage.Adapter
	clock   clock.Clock
	log     *slog.Logger

	// newClientID generates the fresh per-device client id; overridable
	// for deterministic tests.
	newClientID func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock injects the clock used for defaulted answer timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithClientIDGenerator overrides client id generation.
func WithClientIDGenerator(fn func() string) Option {
	return func(r *Runner) { r.newClientID = fn }
}

// WithLogger sets the step logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// New creates a Runner migrating legacy into primary.
func New(primary, legacy storage.Adapter, opts ...Option) *Runner {
	r := &Runner{
		primary:     primary,
		legacy:      legacy,
		clock:       clock.System(),
		log:         slog.Default(),
		newClientID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs the migration state machine. It never returns an error;
// the caller proceeds regardless of partial failures.
func (r *Runner) Run(ctx context.Context) Result {
	var res Result

	// Prior completion gates everything; a second run performs zero
	// writes.
	done, err := storage.GetMeta(ctx, r.primary, record.MetaMigrationDone)
	if err == nil && done == true {
		return res
	}
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("read completion flag: %v", err))
		return res
	}

	// Nothing to migrate when the legacy medium is unusable or nobody
	// was ever signed in; mark complete so the probe never repeats.
	username := ""
	if r.legacy != nil && r.legacy.IsAvailable(ctx) {
		username, err = storage.GetMetaString(ctx, r.legacy, record.MetaUsername)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("read legacy username: %v", err))
		}
	}
	if !record.ValidUsername(username) {
		r.commit(ctx, &res)
		return res
	}
	username = record.NormalizeUsername(username)

	res.Migrated = true
	r.migrateMeta(ctx, username, &res)
	for _, store := range []string{
		record.StoreAnswers,
		record.StoreReasons,
		record.StoreProgress,
		record.StoreAttempts,
		record.StoreBadges,
		record.StoreCharts,
		record.StorePreferences,
	} {
		r.migrateUserStore(ctx, store, username, &res)
	}
	r.migratePeers(ctx, username, &res)
	r.migrateSprite(ctx, username, &res)

	r.commit(ctx, &res)
	r.log.Info("legacy migration finished",
		"items", res.ItemCount, "errors", len(res.Errors), "username", username)
	return res
}

// commit writes the completion flag unconditionally, plus the schema
// version on its first creation.
func (r *Runner) commit(ctx context.Context, res *Result) {
	if err := storage.SetMeta(ctx, r.primary, record.MetaMigrationDone, true); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("write completion flag: %v", err))
	}
	version, err := storage.GetMeta(ctx, r.primary, record.MetaSchemaVersion)
	if err == nil && version == nil {
		if err := storage.SetMeta(ctx, r.primary, record.MetaSchemaVersion, 1); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("write schema version: %v", err))
		}
	}
}

func (r *Runner) migrateMeta(ctx context.Context, username string, res *Result) {
	if err := storage.SetMeta(ctx, r.primary, record.MetaUsername, username); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("meta username: %v", err))
	} else {
		res.ItemCount++
	}

	for _, key := range []string{record.MetaRecentUsernames, record.MetaBackupPrefs} {
		value, err := storage.GetMeta(ctx, r.legacy, key)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("meta %s: %v", key, err))
			continue
		}
		if value == nil {
			continue
		}
		if err := storage.SetMeta(ctx, r.primary, key, value); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("meta %s: %v", key, err))
			continue
		}
		res.ItemCount++
	}

	// A migrated device gets a fresh client id; the legacy medium never
	// had one.
	if err := storage.SetMeta(ctx, r.primary, record.MetaClientID, r.newClientID()); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("meta clientId: %v", err))
	} else {
		res.ItemCount++
	}
}

// migrateUserStore copies one legacy per-user store, normalizing each
// record into the structured shape. Legacy bare-string answers surface
// from the flat adapter as {value} with no timestamp; the original
// write time is unrecoverable, so it defaults to now.
func (r *Runner) migrateUserStore(ctx context.Context, store, username string, res *Result) {
	records, err := r.legacy.GetAllForUser(ctx, store, username)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", store, err))
		return
	}
	now := r.clock.Now().UnixMilli()
	for _, rec := range records {
		fields := rec.Fields
		if store == record.StoreAnswers {
			if record.CoerceTimestamp(fields["timestamp"]) == 0 {
				fields["timestamp"] = now
			}
		}
		if err := r.primary.Set(ctx, store, rec.Key, fields); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s[%s]: %v", store, rec.Key, err))
			continue
		}
		res.ItemCount++
	}
}

// migratePeers copies classmate data from the legacy monolithic blob
// into the peer cache, skipping the migrating user's own entry; that
// data already lives in the per-user stores.
func (r *Runner) migratePeers(ctx context.Context, username string, res *Result) {
	records, err := r.legacy.GetAll(ctx, record.StorePeerCache, "", "")
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("peer cache: %v", err))
		return
	}
	seenAt := r.clock.Now().UnixMilli()
	for _, rec := range records {
		if rec.Key[0] == username {
			continue
		}
		if _, ok := rec.Fields["seenAt"]; !ok {
			rec.Fields["seenAt"] = seenAt
		}
		if err := r.primary.Set(ctx, record.StorePeerCache, rec.Key, rec.Fields); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("peer cache[%s]: %v", rec.Key, err))
			continue
		}
		res.ItemCount++
	}
}

func (r *Runner) migrateSprite(ctx context.Context, username string, res *Result) {
	rec, err := r.legacy.Get(ctx, record.StoreSprites, record.NewKey(username))
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("sprite: %v", err))
		return
	}
	if rec == nil {
		return
	}
	if err := r.primary.Set(ctx, record.StoreSprites, rec.Key, rec.Fields); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("sprite: %v", err))
		return
	}
	res.ItemCount++
}
