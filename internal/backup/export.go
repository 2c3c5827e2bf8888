package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apstatquiz/quizstore/internal/clock"
	"github.com/apstatquiz/quizstore/internal/merge"
	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// Export builds a backup document for the given users. An empty user
// list exports every user with answers in the store.
func Export(ctx context.Context, adapter storage.Adapter, clk clock.Clock, usernames ...string) (*Document, error) {
	if len(usernames) == 0 {
		var err error
		usernames, err = allUsernames(ctx, adapter)
		if err != nil {
			return nil, err
		}
	}

	doc := &Document{
		Version:    FormatVersion,
		ExportedAt: clk.Now().UnixMilli(),
		Users:      map[string]merge.UserData{},
	}
	clientID, err := storage.GetMetaString(ctx, adapter, record.MetaClientID)
	if err == nil {
		doc.ClientID = clientID
	}

	for _, username := range usernames {
		username = record.NormalizeUsername(username)
		data, err := ExportUser(ctx, adapter, username)
		if err != nil {
			return nil, err
		}
		doc.Users[username] = data
	}
	return doc, nil
}

// ExportUser collects one user's slice of every exported store.
func ExportUser(ctx context.Context, adapter storage.Adapter, username string) (merge.UserData, error) {
	data := merge.UserData{}

	answers, err := adapter.GetAllForUser(ctx, record.StoreAnswers, username)
	if err != nil {
		return data, fmt.Errorf("export answers: %w", err)
	}
	for _, rec := range answers {
		answer, err := record.Decode[record.Answer](rec)
		if err != nil {
			return data, err
		}
		if data.Answers == nil {
			data.Answers = map[string]any{}
			data.Timestamps = map[string]any{}
		}
		data.Answers[answer.QuestionID] = answer.Value
		data.Timestamps[answer.QuestionID] = answer.Timestamp
	}

	reasons, err := adapter.GetAllForUser(ctx, record.StoreReasons, username)
	if err != nil {
		return data, fmt.Errorf("export reasons: %w", err)
	}
	for _, rec := range reasons {
		reason, err := record.Decode[record.Reason](rec)
		if err != nil {
			return data, err
		}
		if data.Reasons == nil {
			data.Reasons = map[string]string{}
		}
		data.Reasons[reason.QuestionID] = reason.Value
	}

	attempts, err := adapter.GetAllForUser(ctx, record.StoreAttempts, username)
	if err != nil {
		return data, fmt.Errorf("export attempts: %w", err)
	}
	for _, rec := range attempts {
		attempt, err := record.Decode[record.Attempt](rec)
		if err != nil {
			return data, err
		}
		if data.Attempts == nil {
			data.Attempts = map[string]int64{}
		}
		data.Attempts[attempt.QuestionID] = attempt.Count
	}

	progress, err := adapter.GetAllForUser(ctx, record.StoreProgress, username)
	if err != nil {
		return data, fmt.Errorf("export progress: %w", err)
	}
	for _, rec := range progress {
		p, err := record.Decode[record.Progress](rec)
		if err != nil {
			return data, err
		}
		if data.Progress == nil {
			data.Progress = map[string]float64{}
		}
		data.Progress[p.LessonKey] = p.Value
	}

	badges, err := adapter.GetAllForUser(ctx, record.StoreBadges, username)
	if err != nil {
		return data, fmt.Errorf("export badges: %w", err)
	}
	for _, rec := range badges {
		badge, err := record.Decode[record.Badge](rec)
		if err != nil {
			return data, err
		}
		if data.Badges == nil {
			data.Badges = map[string]merge.BadgeState{}
		}
		data.Badges[badge.BadgeID] = merge.BadgeState{Earned: badge.Earned, EarnedAt: badge.EarnedAt}
	}

	charts, err := adapter.GetAllForUser(ctx, record.StoreCharts, username)
	if err != nil {
		return data, fmt.Errorf("export charts: %w", err)
	}
	for _, rec := range charts {
		chart, err := record.Decode[record.Chart](rec)
		if err != nil {
			return data, err
		}
		if data.Charts == nil {
			data.Charts = map[string]json.RawMessage{}
		}
		data.Charts[chart.ChartID] = chart.Data
	}

	prefs, err := adapter.Get(ctx, record.StorePreferences, record.NewKey(username))
	if err != nil {
		return data, fmt.Errorf("export preferences: %w", err)
	}
	if prefs != nil {
		p, err := record.Decode[record.Preferences](*prefs)
		if err != nil {
			return data, err
		}
		data.Preferences = p.Values
	}

	return data, nil
}

// allUsernames lists every user with at least one stored answer.
func allUsernames(ctx context.Context, adapter storage.Adapter) ([]string, error) {
	keys, err := adapter.Keys(ctx, record.StoreAnswers)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	seen := map[string]bool{}
	usernames := []string{}
	for _, key := range keys {
		if !seen[key[0]] {
			seen[key[0]] = true
			usernames = append(usernames, key[0])
		}
	}
	return usernames, nil
}
