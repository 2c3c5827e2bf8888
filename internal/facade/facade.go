// Package facade wires the storage stack together and exposes
// record-shaped convenience operations to the UI layer.
//
// The facade is an explicit, constructed context object (dependency
// injection) rather than ambient module state; tests build fresh
// instances without cross-test leakage. Initialization is lazy and
// coalesced: the first caller performs backend detection, migration,
// and adapter selection in dependency order while concurrent callers
// block on the same in-flight init instead of racing to open duplicate
// connections.
package facade

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/apstatquiz/quizstore/internal/clock"
	"github.com/apstatquiz/quizstore/internal/dualwrite"
	"github.com/apstatquiz/quizstore/internal/kvstore"
	"github.com/apstatquiz/quizstore/internal/memstore"
	"github.com/apstatquiz/quizstore/internal/migrate"
	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/sqlitestore"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// Config selects the backing files and injectable collaborators.
type Config struct {
	// DatabasePath is the structured store file. Empty disables the
	// structured backend (degraded mode).
	DatabasePath string

	// FlatPath is the flat key-value store file. Empty disables the
	// flat backend.
	FlatPath string

	// SessionID tags diagnostics events. Defaults to a fresh UUID.
	SessionID string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Storage is the facade over the active adapter stack.
type Storage struct {
	cfg   Config
	clock clock.Clock
	log   *slog.Logger

	mu        sync.Mutex
	ready     bool
	adapter   storage.Adapter
	primary   *sqlitestore.Store
	legacy    *kvstore.Store
	migration migrate.Result
	sessionID string
}

// New constructs an uninitialized facade. Backends open lazily on first
// use (or on Ready).
func New(cfg Config) *Storage {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.Must(uuid.NewV7()).String()
	}
	return &Storage{cfg: cfg, clock: cfg.Clock, log: cfg.Logger, sessionID: sessionID}
}

// Ready initializes the stack if needed and reports whether storage is
// usable. Concurrent callers coalesce on one init.
func (s *Storage) Ready(ctx context.Context) error {
	_, err := s.ensure(ctx)
	return err
}

// Adapter returns the active adapter, initializing lazily. After Close
// the next call reopens the stack, so an operation failing with
// storage.ErrStaleConnection can be retried through here.
func (s *Storage) Adapter(ctx context.Context) (storage.Adapter, error) {
	return s.ensure(ctx)
}

// MigrationResult reports what the startup migration did. Zero value
// until Ready has completed.
func (s *Storage) MigrationResult() migrate.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migration
}

// Close drops both backends. Safe to reopen afterward via any
// operation; in-flight operations fail with ErrStaleConnection rather
// than touching stale handles.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.primary != nil {
		if err := s.primary.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.primary = nil
	}
	if s.legacy != nil {
		if err := s.legacy.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.legacy = nil
	}
	s.adapter = nil
	s.ready = false
	return firstErr
}

// ensure opens backends in dependency order: detect the structured
// store, run the one-time migration, then choose dual-write or a single
// backend. Both-backends-down degrades to an in-memory adapter so the
// session keeps working.
func (s *Storage) ensure(ctx context.Context) (storage.Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return s.adapter, nil
	}

	if s.cfg.FlatPath != "" {
		legacy, err := kvstore.Open(s.cfg.FlatPath, kvstore.WithClock(s.clock))
		if err != nil {
			s.log.Warn("flat store unavailable", "path", s.cfg.FlatPath, "error", err)
		} else {
			s.legacy = legacy
		}
	}

	if s.cfg.DatabasePath != "" {
		primary, err := sqlitestore.Open(s.cfg.DatabasePath, sqlitestore.WithClock(s.clock))
		if err != nil {
			s.log.Warn("structured store unavailable", "path", s.cfg.DatabasePath, "error", err)
		} else {
			s.primary = primary
		}
	}

	switch {
	case s.primary != nil:
		var legacyAdapter storage.Adapter
		if s.legacy != nil && s.legacy.IsAvailable(ctx) {
			legacyAdapter = s.legacy
		}
		runner := migrate.New(s.primary, legacyAdapter,
			migrate.WithClock(s.clock), migrate.WithLogger(s.log))
		s.migration = runner.Run(ctx)
		if legacyAdapter != nil {
			s.adapter = dualwrite.New(s.primary, legacyAdapter, s.log)
		} else {
			s.adapter = s.primary
		}
	case s.legacy != nil && s.legacy.IsAvailable(ctx):
		s.adapter = s.legacy
	default:
		// Last resort: both durable backends down. Keep the session
		// alive in memory and tell the operator.
		s.log.Warn("no durable backend available, falling back to in-memory storage")
		s.adapter = memstore.NewWithClock(s.clock)
	}

	s.ready = true
	return s.adapter, nil
}

// outbox returns the active adapter's outbox capability, if any.
func (s *Storage) outbox(ctx context.Context) (storage.Outbox, error) {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	outbox, ok := adapter.(storage.Outbox)
	if !ok {
		return nil, storage.ErrUnsupported
	}
	return outbox, nil
}

// SaveAnswer upserts one answer and enqueues an answer_submit outbox
// item for the sync consumer. A zero timestamp defaults to now. The
// write is the durable part; a failed enqueue is logged, not raised,
// so a full outbox cannot lose a student's answer.
func (s *Storage) SaveAnswer(ctx context.Context, username, questionID, value string, timestamp int64) error {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	if timestamp == 0 {
		timestamp = s.clock.Now().UnixMilli()
	}
	clientID, err := s.ClientID(ctx)
	if err != nil {
		clientID = ""
	}
	fields := map[string]any{
		"value":     value,
		"timestamp": timestamp,
	}
	if clientID != "" {
		fields["sourceClientId"] = clientID
	}
	if err := adapter.Set(ctx, record.StoreAnswers, record.NewKey(username, questionID), fields); err != nil {
		return err
	}

	if outbox, ok := adapter.(storage.Outbox); ok {
		payload := map[string]any{
			"username":   record.NormalizeUsername(username),
			"questionId": questionID,
			"value":      value,
			"timestamp":  timestamp,
		}
		if _, err := outbox.Enqueue(ctx, record.OpAnswerSubmit, payload); err != nil {
			s.log.Warn("outbox enqueue failed", "questionId", questionID, "error", err)
		}
	}
	return nil
}

// GetAnswer returns one answer, or nil when absent.
func (s *Storage) GetAnswer(ctx context.Context, username, questionID string) (*record.Answer, error) {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := adapter.Get(ctx, record.StoreAnswers, record.NewKey(username, questionID))
	if err != nil || rec == nil {
		return nil, err
	}
	answer, err := record.Decode[record.Answer](*rec)
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

// GetAllAnswers returns every answer for a user.
func (s *Storage) GetAllAnswers(ctx context.Context, username string) ([]record.Answer, error) {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	records, err := adapter.GetAllForUser(ctx, record.StoreAnswers, username)
	if err != nil {
		return nil, err
	}
	answers := make([]record.Answer, 0, len(records))
	for _, rec := range records {
		answer, err := record.Decode[record.Answer](rec)
		if err != nil {
			return nil, err
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

// SaveReason upserts the free-text justification for one answer.
func (s *Storage) SaveReason(ctx context.Context, username, questionID, reason string) error {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return adapter.Set(ctx, record.StoreReasons, record.NewKey(username, questionID),
		map[string]any{"value": reason})
}

// RecordAttempt bumps the monotonic attempt counter and returns the new
// count.
func (s *Storage) RecordAttempt(ctx context.Context, username, questionID string) (int64, error) {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return 0, err
	}
	key := record.NewKey(username, questionID)
	var count int64
	if rec, err := adapter.Get(ctx, record.StoreAttempts, key); err != nil {
		return 0, err
	} else if rec != nil {
		attempt, err := record.Decode[record.Attempt](*rec)
		if err != nil {
			return 0, err
		}
		count = attempt.Count
	}
	count++
	if err := adapter.Set(ctx, record.StoreAttempts, key, map[string]any{"count": count}); err != nil {
		return 0, err
	}
	return count, nil
}

// SaveProgress upserts the progress marker for a lesson.
func (s *Storage) SaveProgress(ctx context.Context, username, lessonKey string, value float64) error {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return adapter.Set(ctx, record.StoreProgress, record.NewKey(username, lessonKey),
		map[string]any{"value": value})
}

// AwardBadge marks a badge earned. The first achievement is
// authoritative: an already-earned badge keeps its original EarnedAt.
func (s *Storage) AwardBadge(ctx context.Context, username, badgeID string) (*record.Badge, error) {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	key := record.NewKey(username, badgeID)
	if rec, err := adapter.Get(ctx, record.StoreBadges, key); err != nil {
		return nil, err
	} else if rec != nil {
		badge, err := record.Decode[record.Badge](*rec)
		if err != nil {
			return nil, err
		}
		if badge.Earned {
			return &badge, nil
		}
	}
	badge := record.Badge{
		Username: record.NormalizeUsername(username),
		BadgeID:  badgeID,
		Earned:   true,
		EarnedAt: s.clock.Now().UnixMilli(),
	}
	fields := map[string]any{"earned": badge.Earned, "earnedAt": badge.EarnedAt}
	if err := adapter.Set(ctx, record.StoreBadges, key, fields); err != nil {
		return nil, err
	}
	return &badge, nil
}

// SaveChart upserts opaque chart state.
func (s *Storage) SaveChart(ctx context.Context, username, chartID string, data any) error {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return adapter.Set(ctx, record.StoreCharts, record.NewKey(username, chartID),
		map[string]any{"data": data})
}

// SavePreferences replaces the user's preferences as a whole unit.
func (s *Storage) SavePreferences(ctx context.Context, username string, values map[string]any) error {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return adapter.Set(ctx, record.StorePreferences, record.NewKey(username),
		map[string]any{"values": values})
}

// SetSpriteHue stores the single cosmetic preference.
func (s *Storage) SetSpriteHue(ctx context.Context, username string, hue float64) error {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return adapter.Set(ctx, record.StoreSprites, record.NewKey(username),
		map[string]any{"hue": hue})
}

// ClientID returns this device's stable client id, minting one on first
// use.
func (s *Storage) ClientID(ctx context.Context) (string, error) {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return "", err
	}
	id, err := storage.GetMetaString(ctx, adapter, record.MetaClientID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.Must(uuid.NewV7()).String()
	if err := storage.SetMeta(ctx, adapter, record.MetaClientID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Username returns the signed-in username from meta, or empty.
func (s *Storage) Username(ctx context.Context) (string, error) {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return "", err
	}
	username, err := storage.GetMetaString(ctx, adapter, record.MetaUsername)
	if err != nil {
		return "", err
	}
	if !record.ValidUsername(username) {
		return "", nil
	}
	return record.NormalizeUsername(username), nil
}

// SetUsername records the signed-in username in meta.
func (s *Storage) SetUsername(ctx context.Context, username string) error {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return storage.SetMeta(ctx, adapter, record.MetaUsername, record.NormalizeUsername(username))
}

// PeerUpdate is one peer answer pushed from the relay.
type PeerUpdate struct {
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// UpdatePeerCache refreshes cached peer answers from relay data keyed
// by peer username then question id. Entries for the given peers are
// upserted; SeenAt is stamped now.
func (s *Storage) UpdatePeerCache(ctx context.Context, peerData map[string]map[string]PeerUpdate) error {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	seenAt := s.clock.Now().UnixMilli()
	for peer, answers := range peerData {
		for questionID, update := range answers {
			fields := map[string]any{
				"value":     update.Value,
				"timestamp": update.Timestamp,
				"seenAt":    seenAt,
			}
			if err := adapter.Set(ctx, record.StorePeerCache, record.NewKey(peer, questionID), fields); err != nil {
				return err
			}
		}
	}
	return nil
}

// RebuildClassDataView reconstructs the legacy-shaped in-memory view
// ({users: {username: {answers, timestamps}}}) from the structured
// stores for rendering: the current user's own answers plus every
// cached peer.
func (s *Storage) RebuildClassDataView(ctx context.Context, currentUsername string) (map[string]any, error) {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	currentUsername = record.NormalizeUsername(currentUsername)
	users := map[string]any{}

	answers, err := s.GetAllAnswers(ctx, currentUsername)
	if err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		users[currentUsername] = userNode(answers)
	}

	peers, err := adapter.GetAll(ctx, record.StorePeerCache, "", "")
	if err != nil {
		return nil, err
	}
	for _, rec := range peers {
		peer, err := record.Decode[record.PeerAnswer](rec)
		if err != nil {
			return nil, err
		}
		if peer.PeerUsername == currentUsername {
			continue
		}
		node, ok := users[peer.PeerUsername].(map[string]any)
		if !ok {
			node = map[string]any{
				"answers":    map[string]any{},
				"timestamps": map[string]any{},
			}
			users[peer.PeerUsername] = node
		}
		node["answers"].(map[string]any)[peer.QuestionID] = map[string]any{
			"value":     peer.Value,
			"timestamp": peer.Timestamp,
		}
		node["timestamps"].(map[string]any)[peer.QuestionID] = peer.Timestamp
	}

	return map[string]any{"users": users}, nil
}

func userNode(answers []record.Answer) map[string]any {
	node := map[string]any{
		"answers":    map[string]any{},
		"timestamps": map[string]any{},
	}
	for _, answer := range answers {
		node["answers"].(map[string]any)[answer.QuestionID] = map[string]any{
			"value":     answer.Value,
			"timestamp": answer.Timestamp,
		}
		node["timestamps"].(map[string]any)[answer.QuestionID] = answer.Timestamp
	}
	return node
}

// LogDiagnostic appends a debug event to the capped diagnostics buffer.
// Diagnostics write to the structured store only, bypassing the
// dual-write mirror; when no structured store is up they are dropped.
func (s *Storage) LogDiagnostic(ctx context.Context, eventType string, details map[string]any) error {
	if _, err := s.ensure(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	primary := s.primary
	s.mu.Unlock()
	if primary == nil {
		return nil
	}
	return primary.AppendDiagnostic(ctx, record.DiagnosticEvent{
		EventType: eventType,
		Timestamp: s.clock.Now().UnixMilli(),
		SessionID: s.sessionID,
		Details:   details,
	})
}

// Diagnostics lists buffered debug events, oldest first.
func (s *Storage) Diagnostics(ctx context.Context) ([]record.DiagnosticEvent, error) {
	if _, err := s.ensure(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	primary := s.primary
	s.mu.Unlock()
	if primary == nil {
		return []record.DiagnosticEvent{}, nil
	}
	return primary.ListDiagnostics(ctx)
}

// FailedOutboxCount surfaces permanently failed sync items for the
// teacher/operator view.
func (s *Storage) FailedOutboxCount(ctx context.Context) (int, error) {
	outbox, err := s.outbox(ctx)
	if err != nil {
		if err == storage.ErrUnsupported {
			return 0, nil
		}
		return 0, err
	}
	return outbox.FailedCount(ctx)
}

// Outbox exposes the active outbox capability for the sync consumer.
func (s *Storage) Outbox(ctx context.Context) (storage.Outbox, error) {
	return s.outbox(ctx)
}

// Usage reports the active adapter's storage footprint, best effort.
func (s *Storage) Usage(ctx context.Context) (*storage.Usage, error) {
	adapter, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return adapter.UsageInfo(ctx)
}
