package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/apstatquiz/quizstore/internal/record"
)

func TestBackoff_FirstRetryImmediate(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(0))
	assert.Equal(t, time.Duration(0), Backoff(1))
}

func TestBackoff_TriplesThenCaps(t *testing.T) {
	assert.Equal(t, 15*time.Second, Backoff(2))
	assert.Equal(t, 45*time.Second, Backoff(3))
	assert.Equal(t, 135*time.Second, Backoff(4))
	assert.Equal(t, BackoffMax, Backoff(5))
	assert.Equal(t, BackoffMax, Backoff(MaxAttempts))
	assert.Equal(t, BackoffMax, Backoff(100))
}

func TestBackoff_Monotonic(t *testing.T) {
	prev := time.Duration(-1)
	for attempts := 0; attempts <= MaxAttempts; attempts++ {
		d := Backoff(attempts)
		assert.GreaterOrEqual(t, d, prev, "backoff must never shrink as attempts grow")
		assert.LessOrEqual(t, d, BackoffMax)
		prev = d
	}
}

func TestReadyForRetry_Pending(t *testing.T) {
	item := record.OutboxItem{Status: record.StatusPending}
	assert.True(t, ReadyForRetry(item, time.Now()))
}

func TestReadyForRetry_InFlightNever(t *testing.T) {
	item := record.OutboxItem{Status: record.StatusInFlight, Attempts: 1}
	assert.False(t, ReadyForRetry(item, time.Now()))
}

func TestReadyForRetry_FailedWaitsOutBackoff(t *testing.T) {
	lastAttempt := time.UnixMilli(1700000000000)
	item := record.OutboxItem{
		Status:        record.StatusFailed,
		Attempts:      2,
		LastAttemptAt: lastAttempt.UnixMilli(),
	}

	assert.False(t, ReadyForRetry(item, lastAttempt.Add(14*time.Second)))
	assert.True(t, ReadyForRetry(item, lastAttempt.Add(15*time.Second)))
}

func TestReadyForRetry_PermanentFailure(t *testing.T) {
	item := record.OutboxItem{
		Status:   record.StatusFailed,
		Attempts: MaxAttempts,
	}
	// No amount of elapsed time resurrects a permanently failed item.
	assert.False(t, ReadyForRetry(item, time.UnixMilli(item.LastAttemptAt).Add(24*time.Hour)))
}

func TestReadyForRetry_UnknownStatus(t *testing.T) {
	item := record.OutboxItem{Status: "weird"}
	assert.False(t, ReadyForRetry(item, time.Now()))
}
