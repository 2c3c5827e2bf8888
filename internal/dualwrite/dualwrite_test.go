package dualwrite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apstatquiz/quizstore/internal/memstore"
	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// failingAdapter rejects every write and read.
type failingAdapter struct {
	storage.Adapter
	err error
}

func (f *failingAdapter) Set(ctx context.Context, store string, key record.Key, fields map[string]any) error {
	return f.err
}

func (f *failingAdapter) Remove(ctx context.Context, store string, key record.Key) error {
	return f.err
}

func (f *failingAdapter) Clear(ctx context.Context, store string) error {
	return f.err
}

func newFailing(err error) *failingAdapter {
	return &failingAdapter{Adapter: memstore.New(), err: err}
}

func TestSet_WritesBothBackends(t *testing.T) {
	primary := memstore.New()
	secondary := memstore.New()
	a := New(primary, secondary, nil)
	ctx := context.Background()

	err := a.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "B"})
	require.NoError(t, err)

	p, err := primary.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	require.NotNil(t, p)

	s, err := secondary.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "B", s.Fields["value"])
}

func TestSet_SecondaryFailureSwallowed(t *testing.T) {
	primary := memstore.New()
	a := New(primary, newFailing(errors.New("quota exceeded")), nil)
	ctx := context.Background()

	err := a.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "B"})
	require.NoError(t, err, "mirror failures must not surface to the caller")

	rec, err := a.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "B", rec.Fields["value"])
}

func TestSet_PrimaryFailurePropagates(t *testing.T) {
	boom := errors.New("disk full")
	secondary := memstore.New()
	a := New(newFailing(boom), secondary, nil)
	ctx := context.Background()

	err := a.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "B"})
	assert.ErrorIs(t, err, boom)

	// The mirror must not run when the source of truth rejected the
	// write.
	rec, err := secondary.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestReads_PrimaryOnly(t *testing.T) {
	primary := memstore.New()
	secondary := memstore.New()
	ctx := context.Background()

	// Seed the secondary behind the composition's back; reads must not
	// see it.
	require.NoError(t, secondary.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "stale"}))

	a := New(primary, secondary, nil)
	rec, err := a.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	assert.Nil(t, rec, "reads must come from the primary only")
}

func TestRemove_MirrorsToSecondary(t *testing.T) {
	primary := memstore.New()
	secondary := memstore.New()
	a := New(primary, secondary, nil)
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "B"}))
	require.NoError(t, a.Remove(ctx, record.StoreAnswers, record.NewKey("alice", "q1")))

	s, err := secondary.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestOutbox_UnsupportedPrimary(t *testing.T) {
	a := New(memstore.New(), memstore.New(), nil)
	ctx := context.Background()

	_, err := a.Enqueue(ctx, record.OpAnswerSubmit, map[string]any{})
	assert.ErrorIs(t, err, storage.ErrUnsupported)

	pending, err := a.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "pending drains to empty rather than erroring")

	n, err := a.FailedCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPersistence_DefaultsWithoutCapability(t *testing.T) {
	a := New(memstore.New(), memstore.New(), nil)
	ctx := context.Background()

	granted, err := a.RequestPersistence(ctx)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestPrimary_Accessor(t *testing.T) {
	primary := memstore.New()
	a := New(primary, memstore.New(), nil)
	assert.Same(t, primary, a.Primary().(*memstore.Store))
}
