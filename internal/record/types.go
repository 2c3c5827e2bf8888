package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is the generic envelope adapters exchange. Fields holds every
// stored field, including the reconciled key fields, as decoded JSON.
// UpdatedAt is the storage write time in unix milliseconds; it is
// bookkeeping only and must never drive recency decisions (the
// client-asserted Timestamp field does that for answers).
type Record struct {
	Key       Key
	Fields    map[string]any
	UpdatedAt int64
}

// Decode unmarshals a record's fields into a typed struct via a JSON
// round-trip. Unknown fields are dropped, missing ones zeroed.
func Decode[T any](rec Record) (T, error) {
	var out T
	raw, err := json.Marshal(rec.Fields)
	if err != nil {
		return out, fmt.Errorf("decode record %s: %w", rec.Key, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode record %s: %w", rec.Key, err)
	}
	return out, nil
}

// Encode converts a typed record struct into the generic field map.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return fields, nil
}

// Answer is one student's response to one question. Timestamp is the
// client-asserted event time (unix ms) and is the authoritative ordering
// field for latest-attempt-wins semantics.
type Answer struct {
	Username       string `json:"username"`
	QuestionID     string `json:"questionId"`
	Value          string `json:"value"`
	Timestamp      int64  `json:"timestamp"`
	SourceClientID string `json:"sourceClientId,omitempty"`
}

// Reason is the free-text justification tied 1:1 to an answer.
type Reason struct {
	Username   string `json:"username"`
	QuestionID string `json:"questionId"`
	Value      string `json:"value"`
}

// Attempt is a monotonic per-question attempt counter.
type Attempt struct {
	Username   string `json:"username"`
	QuestionID string `json:"questionId"`
	Count      int64  `json:"count"`
}

// Progress is an opaque numeric progress marker per lesson.
type Progress struct {
	Username  string  `json:"username"`
	LessonKey string  `json:"lessonKey"`
	Value     float64 `json:"value"`
}

// Badge records an earned achievement. EarnedAt is unix ms; the earliest
// EarnedAt wins on merge (first achievement is authoritative).
type Badge struct {
	Username string `json:"username"`
	BadgeID  string `json:"badgeId"`
	Earned   bool   `json:"earned"`
	EarnedAt int64  `json:"earnedAt"`
}

// Chart is opaque chart/plot state keyed per chart id.
type Chart struct {
	Username string          `json:"username"`
	ChartID  string          `json:"chartId"`
	Data     json.RawMessage `json:"data"`
}

// Preferences is an arbitrary per-user settings object, replaced as a
// whole unit on write and on import.
type Preferences struct {
	Username string         `json:"username"`
	Values   map[string]any `json:"values"`
}

// Sprite is the single numeric cosmetic preference.
type Sprite struct {
	Username string  `json:"username"`
	Hue      float64 `json:"hue"`
}

// PeerAnswer is a cached copy of another user's answer, pulled from the
// remote relay. Not authoritative; SeenAt is when this client saw it.
type PeerAnswer struct {
	PeerUsername string `json:"peerUsername"`
	QuestionID   string `json:"questionId"`
	Value        string `json:"value"`
	Timestamp    int64  `json:"timestamp"`
	SeenAt       int64  `json:"seenAt"`
}

// Outbox item statuses. Only the sync consumer moves items out of
// StatusPending; successful delivery deletes the item entirely.
const (
	StatusPending  = "pending"
	StatusInFlight = "in_flight"
	StatusFailed   = "failed"
)

// OutboxItem is one queued not-yet-synced operation. Nonce is a UUIDv7
// carried in the payload so the remote end can dedupe a duplicate send
// from a second tab racing the same item.
type OutboxItem struct {
	ID            int64           `json:"id"`
	Nonce         string          `json:"nonce"`
	OpType        string          `json:"opType"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	CreatedAt     int64           `json:"createdAt"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt int64           `json:"lastAttemptAt"`
	LastError     string          `json:"lastError,omitempty"`
}

// OpAnswerSubmit is the outbox operation enqueued on every answer write.
const OpAnswerSubmit = "answer_submit"

// DiagnosticEvent is one entry in the capped diagnostics buffer.
type DiagnosticEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Timestamp int64          `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Details   map[string]any `json:"details,omitempty"`
}

// CoerceTimestamp converts a loosely typed timestamp (number, numeric
// string, or absent) to unix milliseconds, defaulting to 0. Legacy flat
// storage and imported backups carry timestamps in all three forms.
func CoerceTimestamp(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return int64(n)
	default:
		return 0
	}
}
