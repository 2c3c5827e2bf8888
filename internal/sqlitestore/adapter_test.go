package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/apstatquiz/quizstore/internal/clock"
	"github.com/apstatquiz/quizstore/internal/record"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "quiz.db"), opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGet_AbsentKeyReturnsNil(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.Get(context.Background(), record.StoreAnswers, record.NewKey("alice", "q1"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Get() of absent key = %+v, want nil", rec)
	}
}

func TestSet_UpsertReplacesWholeRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := record.NewKey("alice", "q1")

	err := s.Set(ctx, record.StoreAnswers, key, map[string]any{"value": "A", "timestamp": int64(100), "extra": "x"})
	if err != nil {
		t.Fatalf("first Set() failed: %v", err)
	}
	err = s.Set(ctx, record.StoreAnswers, key, map[string]any{"value": "B", "timestamp": int64(200)})
	if err != nil {
		t.Fatalf("second Set() failed: %v", err)
	}

	rec, err := s.Get(ctx, record.StoreAnswers, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec.Fields["value"] != "B" {
		t.Errorf("value = %v, want B", rec.Fields["value"])
	}
	if _, ok := rec.Fields["extra"]; ok {
		t.Error("upsert must fully replace value fields, found leftover field")
	}

	// One row, not two: upsert, never duplicate.
	keys, err := s.Keys(ctx, record.StoreAnswers)
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("len(Keys()) = %d, want 1", len(keys))
	}
}

func TestSet_KeyFieldsFoldedIntoRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "A"})
	if err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	rec, err := s.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec.Fields["username"] != "alice" || rec.Fields["questionId"] != "q1" {
		t.Errorf("key fields not reconciled into record: %+v", rec.Fields)
	}
}

func TestSet_UpdatedAtUsesClock(t *testing.T) {
	c := clock.NewManual(time.UnixMilli(1700000000000))
	s := openTestStore(t, WithClock(c))
	ctx := context.Background()

	if err := s.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "A"}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	rec, err := s.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec.UpdatedAt != 1700000000000 {
		t.Errorf("UpdatedAt = %d, want clock time", rec.UpdatedAt)
	}
}

func TestGet_UsernameNormalizedAcrossForms(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Write with the decomposed form, read with the precomposed one.
	err := s.Set(ctx, record.StoreAnswers, record.NewKey("café", "q1"), map[string]any{"value": "A"})
	if err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	rec, err := s.Get(ctx, record.StoreAnswers, record.NewKey("café", "q1"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec == nil {
		t.Fatal("NFC-equivalent usernames must address the same record")
	}
}

func TestRemove_AbsentKeyNoop(t *testing.T) {
	s := openTestStore(t)

	err := s.Remove(context.Background(), record.StoreAnswers, record.NewKey("alice", "never"))
	if err != nil {
		t.Errorf("Remove() of absent key = %v, want nil", err)
	}
}

func TestGetAll_FilterByUsername(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := []struct{ user, q, v string }{
		{"alice", "q1", "A"},
		{"alice", "q2", "B"},
		{"bob", "q1", "C"},
	}
	for _, row := range seed {
		if err := s.Set(ctx, record.StoreAnswers, record.NewKey(row.user, row.q), map[string]any{"value": row.v}); err != nil {
			t.Fatalf("Set(%s/%s) failed: %v", row.user, row.q, err)
		}
	}

	all, err := s.GetAll(ctx, record.StoreAnswers, "", "")
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unfiltered GetAll() = %d records, want 3", len(all))
	}

	alice, err := s.GetAll(ctx, record.StoreAnswers, record.IndexUsername, "alice")
	if err != nil {
		t.Fatalf("filtered GetAll() failed: %v", err)
	}
	if len(alice) != 2 {
		t.Errorf("filtered GetAll() = %d records, want 2", len(alice))
	}
	for _, rec := range alice {
		if rec.Fields["username"] != "alice" {
			t.Errorf("filtered record leaked other user: %+v", rec.Fields)
		}
	}
}

func TestGetAll_UnknownIndexRejected(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetAll(context.Background(), record.StoreAnswers, "questionId", "q1")
	if err == nil {
		t.Error("GetAll() with unsupported index should fail")
	}
}

func TestGetAllForUser_PeerCachePartitionsByPeer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Set(ctx, record.StorePeerCache, record.NewKey("bob", "q1"),
		map[string]any{"value": "C", "timestamp": int64(100), "seenAt": int64(101)})
	if err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	recs, err := s.GetAllForUser(ctx, record.StorePeerCache, "bob")
	if err != nil {
		t.Fatalf("GetAllForUser() failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("GetAllForUser() = %d records, want 1", len(recs))
	}
	if recs[0].Fields["peerUsername"] != "bob" {
		t.Errorf("peerUsername = %v, want bob", recs[0].Fields["peerUsername"])
	}
}

func TestClear_WipesOnlyThatStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "A"}); err != nil {
		t.Fatalf("Set(answers) failed: %v", err)
	}
	if err := s.Set(ctx, record.StoreReasons, record.NewKey("alice", "q1"), map[string]any{"value": "because"}); err != nil {
		t.Fatalf("Set(reasons) failed: %v", err)
	}

	if err := s.Clear(ctx, record.StoreAnswers); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}

	answers, _ := s.GetAll(ctx, record.StoreAnswers, "", "")
	if len(answers) != 0 {
		t.Errorf("answers survived Clear(): %d records", len(answers))
	}
	reasons, _ := s.GetAll(ctx, record.StoreReasons, "", "")
	if len(reasons) != 1 {
		t.Errorf("Clear(answers) touched reasons: %d records", len(reasons))
	}
}

func TestGetAll_OutboxScansAsRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, record.OpAnswerSubmit, map[string]any{"questionId": "q1"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	recs, err := s.GetAll(ctx, record.StoreOutbox, "", "")
	if err != nil {
		t.Fatalf("GetAll(outbox) failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("GetAll(outbox) = %d records, want 1", len(recs))
	}
	if recs[0].Fields["opType"] != record.OpAnswerSubmit {
		t.Errorf("opType = %v, want %s", recs[0].Fields["opType"], record.OpAnswerSubmit)
	}
}
