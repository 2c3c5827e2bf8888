package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apstatquiz/quizstore/internal/record"
)

func TestSetGet_RoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "B"})
	require.NoError(t, err)

	rec, err := s.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "B", rec.Fields["value"])
	assert.Equal(t, "alice", rec.Fields["username"])
}

func TestGet_ReturnsACopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "B"}))

	rec, err := s.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	rec.Fields["value"] = "tampered"

	again, err := s.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	assert.Equal(t, "B", again.Fields["value"], "callers must not be able to mutate stored state")
}

func TestGetAll_UsernameFilter(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "A"}))
	require.NoError(t, s.Set(ctx, record.StoreAnswers, record.NewKey("bob", "q1"), map[string]any{"value": "C"}))

	recs, err := s.GetAllForUser(ctx, record.StoreAnswers, "alice")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "A", recs[0].Fields["value"])
}

func TestClear_DropsStore(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"), map[string]any{"value": "A"}))
	require.NoError(t, s.Clear(ctx, record.StoreAnswers))

	recs, err := s.GetAll(ctx, record.StoreAnswers, "", "")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestAlwaysAvailable(t *testing.T) {
	s := New()
	assert.True(t, s.IsAvailable(context.Background()))

	usage, err := s.UsageInfo(context.Background())
	require.NoError(t, err)
	assert.Nil(t, usage, "memory footprint is not accounted")
}
