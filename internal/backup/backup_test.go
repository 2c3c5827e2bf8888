package backup

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apstatquiz/quizstore/internal/clock"
	"github.com/apstatquiz/quizstore/internal/memstore"
	"github.com/apstatquiz/quizstore/internal/merge"
	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

func seedAlice(t *testing.T, adapter storage.Adapter) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, storage.SetMeta(ctx, adapter, record.MetaClientID, "client-1"))
	require.NoError(t, adapter.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"),
		map[string]any{"value": "B", "timestamp": int64(1700000000000)}))
	require.NoError(t, adapter.Set(ctx, record.StoreReasons, record.NewKey("alice", "q1"),
		map[string]any{"value": "eliminated A and C"}))
	require.NoError(t, adapter.Set(ctx, record.StoreAttempts, record.NewKey("alice", "q1"),
		map[string]any{"count": int64(2)}))
	require.NoError(t, adapter.Set(ctx, record.StoreProgress, record.NewKey("alice", "l1"),
		map[string]any{"value": 0.75}))
	require.NoError(t, adapter.Set(ctx, record.StoreBadges, record.NewKey("alice", "first_quiz"),
		map[string]any{"earned": true, "earnedAt": int64(1699999999000)}))
	require.NoError(t, adapter.Set(ctx, record.StoreCharts, record.NewKey("alice", "c1"),
		map[string]any{"data": map[string]any{"bins": 4}}))
	require.NoError(t, adapter.Set(ctx, record.StorePreferences, record.NewKey("alice"),
		map[string]any{"values": map[string]any{"theme": "dark"}}))
}

func TestExport_GoldenDocument(t *testing.T) {
	adapter := memstore.New()
	seedAlice(t, adapter)

	doc, err := Export(context.Background(), adapter, clock.NewManual(time.UnixMilli(1700000100000)))
	require.NoError(t, err)

	raw, err := Encode(doc)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "export_document", raw)
}

func TestExport_DefaultsToAllUsersWithAnswers(t *testing.T) {
	adapter := memstore.New()
	ctx := context.Background()
	require.NoError(t, adapter.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"),
		map[string]any{"value": "A", "timestamp": int64(100)}))
	require.NoError(t, adapter.Set(ctx, record.StoreAnswers, record.NewKey("bob", "q1"),
		map[string]any{"value": "C", "timestamp": int64(100)}))

	doc, err := Export(ctx, adapter, clock.NewManual(time.UnixMilli(0)))
	require.NoError(t, err)
	assert.Len(t, doc.Users, 2)
	assert.Contains(t, doc.Users, "alice")
	assert.Contains(t, doc.Users, "bob")
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	adapter := memstore.New()
	seedAlice(t, adapter)

	doc, err := Export(context.Background(), adapter, clock.NewManual(time.UnixMilli(1700000100000)))
	require.NoError(t, err)
	raw, err := Encode(doc)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, decoded.Version)
	assert.Equal(t, "client-1", decoded.ClientID)
	assert.Equal(t, "B", decoded.Users["alice"].Answers["q1"])
}

func TestDecode_ChecksumMismatchRejected(t *testing.T) {
	adapter := memstore.New()
	seedAlice(t, adapter)

	doc, err := Export(context.Background(), adapter, clock.NewManual(time.UnixMilli(1700000100000)))
	require.NoError(t, err)
	raw, err := Encode(doc)
	require.NoError(t, err)

	// Tamper with an answer without recomputing the checksum.
	tampered := []byte(strings.Replace(string(raw), `"q1": "B"`, `"q1": "D"`, 1))

	_, err = Decode(tampered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestDecode_SchemaRejectsMalformedDocuments(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing version", `{"exportedAt":1,"users":{},"checksum":"x"}`},
		{"version zero", `{"version":0,"exportedAt":1,"users":{},"checksum":"x"}`},
		{"negative attempts", `{"version":1,"exportedAt":1,"users":{"alice":{"attempts":{"q1":-2}}},"checksum":"x"}`},
		{"non-string reason", `{"version":1,"exportedAt":1,"users":{"alice":{"reasons":{"q1":7}}},"checksum":"x"}`},
		{"not json", `version: 1`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestImport_MergesIntoExistingData(t *testing.T) {
	adapter := memstore.New()
	ctx := context.Background()

	// Local store already holds a newer q1 and an older q2.
	require.NoError(t, adapter.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q1"),
		map[string]any{"value": "LOCAL", "timestamp": int64(200)}))
	require.NoError(t, adapter.Set(ctx, record.StoreAnswers, record.NewKey("alice", "q2"),
		map[string]any{"value": "OLD", "timestamp": int64(50)}))

	doc := &Document{
		Version: FormatVersion,
		Users: map[string]merge.UserData{
			"alice": {
				Answers:    map[string]any{"q1": "BACKUP", "q2": "NEW"},
				Timestamps: map[string]any{"q1": int64(100), "q2": int64(150)},
				Attempts:   map[string]int64{"q1": 4},
			},
		},
	}

	res, err := Import(ctx, adapter, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Users)
	assert.Greater(t, res.Records, 0)

	q1, err := adapter.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	assert.Equal(t, "LOCAL", q1.Fields["value"], "older backup answer must not clobber newer local one")

	q2, err := adapter.Get(ctx, record.StoreAnswers, record.NewKey("alice", "q2"))
	require.NoError(t, err)
	assert.Equal(t, "NEW", q2.Fields["value"])

	attempt, err := adapter.Get(ctx, record.StoreAttempts, record.NewKey("alice", "q1"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, attempt.Fields["count"])
}

func TestImport_SkipsInvalidUsernames(t *testing.T) {
	adapter := memstore.New()
	ctx := context.Background()

	doc := &Document{
		Version: FormatVersion,
		Users: map[string]merge.UserData{
			"null": {Answers: map[string]any{"q1": "A"}},
		},
	}

	res, err := Import(ctx, adapter, doc)
	require.NoError(t, err)
	assert.Zero(t, res.Users)
}
