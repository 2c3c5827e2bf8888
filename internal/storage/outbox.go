package storage

import (
	"time"

	"github.com/apstatquiz/quizstore/internal/record"
)

// Outbox retry policy. An item is retried with exponential backoff up to
// MaxAttempts; beyond that it is permanently failed and only surfaced
// through FailedCount / operator tooling.
const (
	// MaxAttempts is the delivery attempt ceiling.
	MaxAttempts = 10

	// BackoffBase is the delay after the first failure.
	BackoffBase = 5 * time.Second

	// BackoffMax caps the delay between retries.
	BackoffMax = 5 * time.Minute
)

// Backoff returns the minimum wait after the given number of attempts
// before the next delivery try. The first retry is immediate; after
// that the delay triples from the base: 15s, 45s, 135s, capped at 5m.
func Backoff(attempts int) time.Duration {
	if attempts <= 1 {
		return 0
	}
	d := BackoffBase
	for i := 2; i <= attempts; i++ {
		d *= 3
		if d >= BackoffMax {
			return BackoffMax
		}
	}
	return d
}

// ReadyForRetry reports whether an outbox item is eligible for
// (re)delivery at the given instant.
//
//   - pending: always eligible.
//   - in_flight: never (another consumer is already sending it).
//   - failed at MaxAttempts: never (permanently failed).
//   - failed below MaxAttempts: eligible once the backoff since the last
//     attempt has elapsed.
func ReadyForRetry(item record.OutboxItem, now time.Time) bool {
	switch item.Status {
	case record.StatusPending:
		return true
	case record.StatusInFlight:
		return false
	case record.StatusFailed:
		if item.Attempts >= MaxAttempts {
			return false
		}
		wait := Backoff(item.Attempts)
		return now.Sub(time.UnixMilli(item.LastAttemptAt)) >= wait
	default:
		return false
	}
}
