// Package clock provides an injectable wall-clock abstraction.
//
// All recency comparisons (answer merge ordering) and retry timing
// (outbox backoff) go through a Clock so tests can control time
// deterministically instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
//
// Thread-safety: implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
}

// System returns a Clock backed by time.Now.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Manual is a hand-advanced Clock for tests.
//
// Example:
//
//	c := clock.NewManual(time.UnixMilli(1000))
//	c.Now()                       // 1000ms
//	c.Advance(5 * time.Second)
//	c.Now()                       // 6000ms
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock frozen at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the clock's current frozen time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set jumps the clock to t. Used when a test needs an absolute instant.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
