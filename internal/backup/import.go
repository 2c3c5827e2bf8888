package backup

import (
	"context"
	"fmt"

	"github.com/apstatquiz/quizstore/internal/merge"
	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// ImportResult reports what an import wrote.
type ImportResult struct {
	Users   int `json:"users"`
	Records int `json:"records"`
}

// Import reconciles a decoded backup document into the store. Each
// user's incoming slice is merged against what is already present
// (timestamp-ordered, non-destructive) and the merged result written
// back; nothing is overwritten blindly.
func Import(ctx context.Context, adapter storage.Adapter, doc *Document) (*ImportResult, error) {
	res := &ImportResult{}
	for username, incoming := range doc.Users {
		username = record.NormalizeUsername(username)
		if !record.ValidUsername(username) {
			continue
		}
		existing, err := ExportUser(ctx, adapter, username)
		if err != nil {
			return res, fmt.Errorf("import %s: %w", username, err)
		}
		merged := merge.Merge(existing, incoming)
		written, err := writeUser(ctx, adapter, username, merged)
		if err != nil {
			return res, fmt.Errorf("import %s: %w", username, err)
		}
		res.Users++
		res.Records += written
	}
	return res, nil
}

// writeUser upserts one user's merged slice back into the stores.
func writeUser(ctx context.Context, adapter storage.Adapter, username string, data merge.UserData) (int, error) {
	written := 0

	for questionID, value := range data.Answers {
		fields := map[string]any{
			"value":     value,
			"timestamp": record.CoerceTimestamp(data.Timestamps[questionID]),
		}
		if err := adapter.Set(ctx, record.StoreAnswers, record.NewKey(username, questionID), fields); err != nil {
			return written, err
		}
		written++
	}
	for questionID, reason := range data.Reasons {
		fields := map[string]any{"value": reason}
		if err := adapter.Set(ctx, record.StoreReasons, record.NewKey(username, questionID), fields); err != nil {
			return written, err
		}
		written++
	}
	for questionID, count := range data.Attempts {
		fields := map[string]any{"count": count}
		if err := adapter.Set(ctx, record.StoreAttempts, record.NewKey(username, questionID), fields); err != nil {
			return written, err
		}
		written++
	}
	for lessonKey, value := range data.Progress {
		fields := map[string]any{"value": value}
		if err := adapter.Set(ctx, record.StoreProgress, record.NewKey(username, lessonKey), fields); err != nil {
			return written, err
		}
		written++
	}
	for badgeID, badge := range data.Badges {
		fields := map[string]any{"earned": badge.Earned, "earnedAt": badge.EarnedAt}
		if err := adapter.Set(ctx, record.StoreBadges, record.NewKey(username, badgeID), fields); err != nil {
			return written, err
		}
		written++
	}
	for chartID, chart := range data.Charts {
		fields := map[string]any{"data": chart}
		if err := adapter.Set(ctx, record.StoreCharts, record.NewKey(username, chartID), fields); err != nil {
			return written, err
		}
		written++
	}
	if data.Preferences != nil {
		fields := map[string]any{"values": data.Preferences}
		if err := adapter.Set(ctx, record.StorePreferences, record.NewKey(username), fields); err != nil {
			return written, err
		}
		written++
	}

	return written, nil
}
