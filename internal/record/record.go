// Package record defines the fixed set of stores (named record kinds)
// persisted by the storage layer, their key shapes, and the typed record
// structs exchanged with callers.
//
// The record vocabulary is deliberately closed: this is not a general
// database. Every store has a fixed key shape — a single scalar key, an
// ordered [username, secondary] tuple, or an auto-assigned integer id —
// and upsert semantics (re-writing a key fully replaces the record's
// value fields).
package record

import (
	"fmt"
	"sort"
)

// Store names. These are stable identifiers shared by both backends and
// by the on-disk layout; renaming one is a schema migration.
const (
	StoreMeta        = "meta"
	StoreAnswers     = "answers"
	StoreReasons     = "reasons"
	StoreAttempts    = "attempts"
	StoreProgress    = "progress"
	StoreBadges      = "badges"
	StoreCharts      = "charts"
	StorePreferences = "preferences"
	StoreSprites     = "sprites"
	StorePeerCache   = "peerCache"
	StoreOutbox      = "outbox"
	StoreDiagnostics = "diagnostics"
)

// IndexUsername is the one named secondary index supported by GetAll
// filtering: equality on the record's username field (peer username for
// the peer cache).
const IndexUsername = "username"

// Spec describes one store's key shape.
type Spec struct {
	Name string

	// KeyFields is the ordered key path. One element means a scalar
	// key, two elements a compound key. Empty means the store uses an
	// auto-assigned integer id (outbox, diagnostics).
	KeyFields []string

	// UserField names the field carrying the per-user partition, if
	// any. It backs the "username" index and GetAllForUser.
	UserField string
}

// AutoKey reports whether the store assigns integer ids itself.
func (s Spec) AutoKey() bool {
	return len(s.KeyFields) == 0
}

// Compound reports whether the store uses a two-part key.
func (s Spec) Compound() bool {
	return len(s.KeyFields) == 2
}

var registry = map[string]Spec{
	StoreMeta:        {Name: StoreMeta, KeyFields: []string{"key"}},
	StoreAnswers:     {Name: StoreAnswers, KeyFields: []string{"username", "questionId"}, UserField: "username"},
	StoreReasons:     {Name: StoreReasons, KeyFields: []string{"username", "questionId"}, UserField: "username"},
	StoreAttempts:    {Name: StoreAttempts, KeyFields: []string{"username", "questionId"}, UserField: "username"},
	StoreProgress:    {Name: StoreProgress, KeyFields: []string{"username", "lessonKey"}, UserField: "username"},
	StoreBadges:      {Name: StoreBadges, KeyFields: []string{"username", "badgeId"}, UserField: "username"},
	StoreCharts:      {Name: StoreCharts, KeyFields: []string{"username", "chartId"}, UserField: "username"},
	StorePreferences: {Name: StorePreferences, KeyFields: []string{"username"}, UserField: "username"},
	StoreSprites:     {Name: StoreSprites, KeyFields: []string{"username"}, UserField: "username"},
	StorePeerCache:   {Name: StorePeerCache, KeyFields: []string{"peerUsername", "questionId"}, UserField: "peerUsername"},
	StoreOutbox:      {Name: StoreOutbox},
	StoreDiagnostics: {Name: StoreDiagnostics},
}

// StoreSpec returns the spec for a store name.
func StoreSpec(store string) (Spec, error) {
	spec, ok := registry[store]
	if !ok {
		return Spec{}, fmt.Errorf("unknown store %q", store)
	}
	return spec, nil
}

// Stores returns all store names in a stable (sorted) order.
func Stores() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UserStores returns the keyed stores partitioned by username, in the
// order migration and export walk them. The peer cache is excluded; it
// is partitioned by peer, not by the owning user.
func UserStores() []string {
	return []string{
		StoreAnswers,
		StoreReasons,
		StoreAttempts,
		StoreProgress,
		StoreBadges,
		StoreCharts,
		StorePreferences,
		StoreSprites,
	}
}
