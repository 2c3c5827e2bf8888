package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/apstatquiz/quizstore/internal/clock"
	"github.com/apstatquiz/quizstore/internal/record"
)

func TestOutbox_SingleFlatKeyArray(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, record.OpAnswerSubmit, map[string]any{"questionId": "q1"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	id2, err := s.Enqueue(ctx, record.OpAnswerSubmit, map[string]any{"questionId": "q2"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if id2 != id1+1 {
		t.Errorf("ids = %d then %d, want consecutive", id1, id2)
	}

	if _, found := rawItem(t, s, "outbox"); !found {
		t.Error("outbox must live under the single legacy flat key")
	}

	pending, err := s.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("GetPending() = %d items, want 2", len(pending))
	}
}

func TestOutbox_LiveIdsDistinct(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, record.OpAnswerSubmit, map[string]any{"questionId": "q1"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := s.MarkSynced(ctx, []int64{id1}); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	// With the queue drained, ids restart from 1; a duplicate of a
	// still-queued id must never happen.
	idA, err := s.Enqueue(ctx, record.OpAnswerSubmit, map[string]any{"questionId": "q2"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	idB, err := s.Enqueue(ctx, record.OpAnswerSubmit, map[string]any{"questionId": "q3"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if idA == idB {
		t.Errorf("queued items share id %d", idA)
	}
}

func TestOutbox_StateMachineOnFlatMedium(t *testing.T) {
	c := clock.NewManual(time.UnixMilli(1700000000000))
	s := openTestStore(t, WithClock(c))
	ctx := context.Background()

	id, err := s.Enqueue(ctx, record.OpAnswerSubmit, map[string]any{"questionId": "q1"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if err := s.MarkInFlight(ctx, []int64{id}); err != nil {
		t.Fatalf("MarkInFlight() failed: %v", err)
	}
	pending, _ := s.GetPending(ctx)
	if len(pending) != 0 {
		t.Errorf("in-flight item still pending: %d", len(pending))
	}

	if err := s.MarkFailed(ctx, []int64{id}, "relay unreachable"); err != nil {
		t.Fatalf("MarkFailed() failed: %v", err)
	}
	// First failure: attempts=1 retries immediately.
	pending, _ = s.GetPending(ctx)
	if len(pending) != 1 {
		t.Fatalf("first-failure item not retryable: %d pending", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].LastError != "relay unreachable" {
		t.Errorf("item = %+v, want attempts=1 with recorded cause", pending[0])
	}

	if err := s.MarkSynced(ctx, []int64{id}); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	items, err := s.readOutbox()
	if err != nil {
		t.Fatalf("readOutbox() failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("delivered item retained: %d items", len(items))
	}
}

func TestOutbox_FailedCountAndPrune(t *testing.T) {
	c := clock.NewManual(time.UnixMilli(1700000000000))
	s := openTestStore(t, WithClock(c))
	ctx := context.Background()

	id, err := s.Enqueue(ctx, record.OpAnswerSubmit, map[string]any{"questionId": "q1"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := s.MarkInFlight(ctx, []int64{id}); err != nil {
			t.Fatalf("MarkInFlight() failed: %v", err)
		}
		if err := s.MarkFailed(ctx, []int64{id}, "relay unreachable"); err != nil {
			t.Fatalf("MarkFailed() failed: %v", err)
		}
	}

	n, err := s.FailedCount(ctx)
	if err != nil {
		t.Fatalf("FailedCount() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("FailedCount() = %d, want 1", n)
	}

	c.Advance(48 * time.Hour)
	pruned, err := s.PruneFailed(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneFailed() failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("PruneFailed() = %d, want 1", pruned)
	}
}
