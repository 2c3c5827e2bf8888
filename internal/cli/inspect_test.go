package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	inspectCmd, _, err := cmd.Find([]string{"inspect"})
	require.NoError(t, err)

	userFlag := inspectCmd.Flags().Lookup("user")
	require.NotNil(t, userFlag)
	assert.Equal(t, "", userFlag.DefValue)
}

func TestInspectReportsUsage(t *testing.T) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "quiz.db"), "inspect"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Stores:")
	assert.Contains(t, out.String(), "bytes")
}

func TestInspectUsageUnavailableInDegradedMode(t *testing.T) {
	// A directory is not an openable flat store, so storage falls back
	// to the in-memory adapter, which cannot account its footprint.
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--flat", t.TempDir(), "inspect"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Usage: unavailable")
}

func TestInspectRejectsUnknownStore(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "quiz.db"), "inspect", "nope"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}
