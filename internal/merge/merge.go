// Package merge implements non-destructive, timestamp-ordered
// reconciliation of two per-user data sets, used when a previously
// exported backup is re-imported alongside data already present for the
// same user (multi-device recovery).
package merge

import (
	"encoding/json"

	"github.com/apstatquiz/quizstore/internal/record"
)

// UserData is one user's slice of every exported store. Answer values
// and timestamps are loosely typed because backups written by older app
// versions carry bare strings and numeric strings.
type UserData struct {
	Answers     map[string]any             `json:"answers,omitempty"`
	Timestamps  map[string]any             `json:"timestamps,omitempty"`
	Reasons     map[string]string          `json:"reasons,omitempty"`
	Attempts    map[string]int64           `json:"attempts,omitempty"`
	Progress    map[string]float64         `json:"progress,omitempty"`
	Badges      map[string]BadgeState      `json:"badges,omitempty"`
	Charts      map[string]json.RawMessage `json:"charts,omitempty"`
	Preferences map[string]any             `json:"preferences,omitempty"`
}

// BadgeState is one earned badge in a backup.
type BadgeState struct {
	Earned   bool  `json:"earned"`
	EarnedAt int64 `json:"earnedAt"`
}

// Merge reconciles incoming backup data into existing data and returns
// the merged result. Neither input is modified; the merge operates on a
// deep copy, and any unexpected panic partway through yields the
// original existing data unchanged (keeping what is already there beats
// a half-merged result).
//
// Rules, per field group:
//   - Answers: incoming wins only when its timestamp is strictly
//     greater (missing timestamps coerce to 0). The answer, its
//     timestamp, and its reason move as a unit. Equal timestamps keep
//     the existing record; ties are not further disambiguated.
//   - Attempts and progress: max per key, counts only grow.
//   - Badges: new ids added; ids in both keep the earlier EarnedAt.
//   - Charts: incoming adopted only for ids not already present.
//   - Preferences: incoming replaces existing as a whole unit.
func Merge(existing, incoming UserData) (merged UserData) {
	defer func() {
		if r := recover(); r != nil {
			merged = existing
		}
	}()
	merged = deepCopy(existing)

	mergeAnswers(&merged, incoming)
	mergeCounts(&merged, incoming)
	mergeBadges(&merged, incoming)
	mergeCharts(&merged, incoming)
	if incoming.Preferences != nil {
		merged.Preferences = copyAnyMap(incoming.Preferences)
	}
	return merged
}

func mergeAnswers(merged *UserData, incoming UserData) {
	for questionID, value := range incoming.Answers {
		incomingTS := record.CoerceTimestamp(incoming.Timestamps[questionID])
		_, exists := merged.Answers[questionID]
		existingTS := record.CoerceTimestamp(merged.Timestamps[questionID])

		if exists && incomingTS <= existingTS {
			continue
		}
		if merged.Answers == nil {
			merged.Answers = map[string]any{}
		}
		if merged.Timestamps == nil {
			merged.Timestamps = map[string]any{}
		}
		merged.Answers[questionID] = value
		merged.Timestamps[questionID] = incomingTS
		if reason, ok := incoming.Reasons[questionID]; ok {
			if merged.Reasons == nil {
				merged.Reasons = map[string]string{}
			}
			merged.Reasons[questionID] = reason
		}
	}
}

func mergeCounts(merged *UserData, incoming UserData) {
	for questionID, count := range incoming.Attempts {
		if merged.Attempts == nil {
			merged.Attempts = map[string]int64{}
		}
		if count > merged.Attempts[questionID] {
			merged.Attempts[questionID] = count
		}
	}
	for lessonKey, value := range incoming.Progress {
		if merged.Progress == nil {
			merged.Progress = map[string]float64{}
		}
		if value > merged.Progress[lessonKey] {
			merged.Progress[lessonKey] = value
		}
	}
}

func mergeBadges(merged *UserData, incoming UserData) {
	for badgeID, badge := range incoming.Badges {
		if merged.Badges == nil {
			merged.Badges = map[string]BadgeState{}
		}
		existing, ok := merged.Badges[badgeID]
		// First achievement is authoritative.
		if !ok || (badge.EarnedAt != 0 && (existing.EarnedAt == 0 || badge.EarnedAt < existing.EarnedAt)) {
			merged.Badges[badgeID] = badge
		}
	}
}

func mergeCharts(merged *UserData, incoming UserData) {
	for chartID, data := range incoming.Charts {
		if merged.Charts == nil {
			merged.Charts = map[string]json.RawMessage{}
		}
		if _, ok := merged.Charts[chartID]; !ok {
			merged.Charts[chartID] = append(json.RawMessage{}, data...)
		}
	}
}

func deepCopy(data UserData) UserData {
	out := UserData{}
	if data.Answers != nil {
		out.Answers = copyAnyMap(data.Answers)
	}
	if data.Timestamps != nil {
		out.Timestamps = copyAnyMap(data.Timestamps)
	}
	if data.Reasons != nil {
		out.Reasons = make(map[string]string, len(data.Reasons))
		for k, v := range data.Reasons {
			out.Reasons[k] = v
		}
	}
	if data.Attempts != nil {
		out.Attempts = make(map[string]int64, len(data.Attempts))
		for k, v := range data.Attempts {
			out.Attempts[k] = v
		}
	}
	if data.Progress != nil {
		out.Progress = make(map[string]float64, len(data.Progress))
		for k, v := range data.Progress {
			out.Progress[k] = v
		}
	}
	if data.Badges != nil {
		out.Badges = make(map[string]BadgeState, len(data.Badges))
		for k, v := range data.Badges {
			out.Badges[k] = v
		}
	}
	if data.Charts != nil {
		out.Charts = make(map[string]json.RawMessage, len(data.Charts))
		for k, v := range data.Charts {
			out.Charts[k] = append(json.RawMessage{}, v...)
		}
	}
	if data.Preferences != nil {
		out.Preferences = copyAnyMap(data.Preferences)
	}
	return out
}

// copyAnyMap deep-copies via a JSON round-trip; values may hold nested
// maps from decoded backups.
func copyAnyMap(m map[string]any) map[string]any {
	raw, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}
