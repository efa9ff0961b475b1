package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"lifeos"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func setupDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LIFEOS_DATA_DIR", dir)
	t.Setenv("LIFEOS_CONFIG", filepath.Join(dir, "guardian.yaml"))
	t.Setenv("LIFEOS_OTLP_ENDPOINT", "")
	t.Setenv("LOG_LEVEL", "ERROR")
	return dir
}

func TestUsageWithoutCommand(t *testing.T) {
	setupDataDir(t)
	code, stdout, _ := run(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout, "USAGE")
}

func TestUnknownCommand(t *testing.T) {
	setupDataDir(t)
	code, _, stderr := run(t, "bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestAppendStateRoundTrip(t *testing.T) {
	setupDataDir(t)

	code, stdout, stderr := run(t, "append",
		"-type", "goal_created",
		"-payload", `{"goal":{"id":"g1","title":"Write","status":"active"}}`)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "evt_")

	code, stdout, stderr = run(t, "state")
	require.Equal(t, 0, code, stderr)

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	goals, ok := st["goals"].([]any)
	require.True(t, ok)
	require.Len(t, goals, 1)
}

func TestResponseAndConfirmFlow(t *testing.T) {
	setupDataDir(t)

	code, stdout, stderr := run(t, "response", "-days", "7")
	require.Equal(t, 0, code, stderr)

	var resp struct {
		ConfirmationAction struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"confirmation_action"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Regexp(t, "^gcf_", resp.ConfirmationAction.Fingerprint)

	code, stdout, stderr = run(t, "confirm", "-fingerprint", resp.ConfirmationAction.Fingerprint)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "confirmed")

	code, _, _ = run(t, "confirm", "-fingerprint", "gcf_0000000000000000")
	assert.Equal(t, 1, code)
}

func TestConfirmRequiresFingerprint(t *testing.T) {
	setupDataDir(t)
	code, _, stderr := run(t, "confirm")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "-fingerprint is required")
}

func TestTickSnapshotAndVerify(t *testing.T) {
	setupDataDir(t)

	code, stdout, stderr := run(t, "tick", "-date", "2026-02-11", "-previous", "2026-02-10")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "ticked to 2026-02-11")

	code, stdout, stderr = run(t, "verify")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "ok:")
}

func TestMirrorToSQLite(t *testing.T) {
	dir := setupDataDir(t)

	code, _, stderr := run(t, "append", "-type", "progress_updated", "-payload", `{"note":"moved"}`)
	require.Equal(t, 0, code, stderr)

	dsn := filepath.Join(dir, "mirror.db")
	code, stdout, stderr := run(t, "mirror", "-driver", "sqlite", "-dsn", dsn)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "mirrored 1 event(s)")

	// Second mirror is a no-op.
	code, stdout, stderr = run(t, "mirror", "-driver", "sqlite", "-dsn", dsn)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "mirrored 0 event(s)")
}
