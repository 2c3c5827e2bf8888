package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quizstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
database: /data/quiz.db
flat: /data/flat.db
relay:
  endpoint: https://relay.example.com/sync
  interval: 45s
  timeout: 10s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/quiz.db", cfg.Database)
	assert.Equal(t, "/data/flat.db", cfg.Flat)
	assert.Equal(t, "https://relay.example.com/sync", cfg.Relay.Endpoint)
	assert.Equal(t, 45*time.Second, cfg.Relay.Interval)
	assert.Equal(t, 10*time.Second, cfg.Relay.Timeout)
}

func TestLoadConfigDefaultsInterval(t *testing.T) {
	path := writeConfig(t, `
database: /data/quiz.db
relay:
  endpoint: https://relay.example.com/sync
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSyncInterval, cfg.Relay.Interval)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "database: [unclosed")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestApplyConfigFlagsWin(t *testing.T) {
	path := writeConfig(t, `
database: /config/quiz.db
flat: /config/flat.db
`)

	opts := &RootOptions{ConfigPath: path, Database: "/flag/quiz.db"}
	require.NoError(t, opts.applyConfig())
	assert.Equal(t, "/flag/quiz.db", opts.Database, "explicit flag beats config file")
	assert.Equal(t, "/config/flat.db", opts.Flat, "config fills unset flags")
}
