package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedSignals = `{"id":"s1","occurred_at":"2026-02-05T10:00:00Z","entity_ref":"e1","source":"route","payload_type":"Seen","payload":{"n":1}}
{"id":"s2","occurred_at":"2026-02-05T11:00:00Z","entity_ref":"e2","source":"poll","payload_type":"Seen","payload":{"n":2}}
{"id":"s3","occurred_at":"2026-02-06T09:00:00Z","entity_ref":"e1","source":"route","payload_type":"Seen","payload":{"n":3}}
`

// seedStore writes seedSignals into a fresh store root and returns it.
func seedStore(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	_, _, err := runCLI(t, seedSignals, "--root", root, "write", "--stream", "signals")
	require.NoError(t, err)
	return root
}

// replayedIDs extracts the ids of the JSON lines printed by a text replay.
func replayedIDs(t *testing.T, stdout string) []string {
	t.Helper()
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		var rec struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "line %q", line)
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestReplayMissingRequiredFlags(t *testing.T) {
	_, _, err := runCLI(t, "", "--root", t.TempDir(), "replay", "--stream", "signals")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyStore(t *testing.T) {
	stdout, stderr, err := runCLI(t, "", "--root", t.TempDir(),
		"replay", "--stream", "signals", "--start", "2026-02-01", "--end", "2026-03-01")
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "signals: 0 record(s) from 0 partition(s)")
}

func TestReplayTextOutput(t *testing.T) {
	root := seedStore(t)

	stdout, stderr, err := runCLI(t, "", "--root", root,
		"replay", "--stream", "signals", "--start", "2026-02-05", "--end", "2026-02-07")
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "s2", "s3"}, replayedIDs(t, stdout))
	assert.Contains(t, stdout, `"payload":{"n":1}`)
	assert.Contains(t, stderr, "signals: 3 record(s) from 2 partition(s)")
	assert.Contains(t, stderr, "digest: ")
}

func TestReplayFilters(t *testing.T) {
	root := seedStore(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"entity", []string{"--entity", "e1"}, []string{"s1", "s3"}},
		{"classifier", []string{"--classifier", "poll"}, []string{"s2"}},
		{"window_end_exclusive", []string{"--end", "2026-02-06T09:00:00Z"}, []string{"s1", "s2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []string{"--root", root, "replay", "--stream", "signals", "--start", "2026-02-05", "--end", "2026-02-07"}
			args = append(args, tt.args...)
			stdout, _, err := runCLI(t, "", args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, replayedIDs(t, stdout))
		})
	}
}

func TestReplayInvalidWindow(t *testing.T) {
	_, _, err := runCLI(t, "", "--root", t.TempDir(),
		"replay", "--stream", "signals", "--start", "yesterday", "--end", "2026-03-01")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = runCLI(t, "", "--root", t.TempDir(),
		"replay", "--stream", "audits", "--start", "2026-02-01", "--end", "2026-03-01")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayVerifyJSON(t *testing.T) {
	root := seedStore(t)

	stdout, _, err := runCLI(t, "", "--root", root, "--format", "json",
		"replay", "--stream", "signals", "--start", "2026-02-05", "--end", "2026-02-07", "--verify")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data.Records, 3)
	assert.Equal(t, 3, resp.Data.Stats.Yielded)
	assert.NotEmpty(t, resp.Data.Digest)
	require.NotNil(t, resp.Data.Deterministic)
	assert.True(t, *resp.Data.Deterministic)
}

func TestReplayDigestStable(t *testing.T) {
	root := seedStore(t)
	args := []string{"--root", root, "--format", "json", "replay", "--stream", "signals",
		"--start", "2026-02-05", "--end", "2026-02-07", "--quiet"}

	digest := func() string {
		stdout, _, err := runCLI(t, "", args...)
		require.NoError(t, err)
		var resp struct {
			Data ReplayResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
		assert.Empty(t, resp.Data.Records)
		return resp.Data.Digest
	}

	assert.Equal(t, digest(), digest())
}

func TestReplayAdvanceRequiresCheckpoint(t *testing.T) {
	_, _, err := runCLI(t, "", "--root", t.TempDir(),
		"replay", "--stream", "signals", "--start", "2026-02-05", "--end", "2026-02-07", "--advance")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayCheckpointResume(t *testing.T) {
	root := seedStore(t)
	args := []string{"--root", root, "replay", "--stream", "signals",
		"--start", "2026-02-01", "--end", "2026-03-01", "--checkpoint", "scorer", "--advance"}

	stdout, stderr, err := runCLI(t, "", args...)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, replayedIDs(t, stdout))
	assert.Contains(t, stderr, "checkpoint advanced to 2026-02-06T09:00:00Z (1 id(s))")

	// A sibling at the boundary timestamp and a later record arrive.
	more := `{"id":"s4","occurred_at":"2026-02-06T09:00:00Z","source":"route","payload_type":"Seen"}
{"id":"s5","occurred_at":"2026-02-07T08:00:00Z","source":"route","payload_type":"Seen"}
`
	_, _, err = runCLI(t, more, "--root", root, "write", "--stream", "signals")
	require.NoError(t, err)

	stdout, _, err = runCLI(t, "", args...)
	require.NoError(t, err)
	assert.Equal(t, []string{"s4", "s5"}, replayedIDs(t, stdout))

	// Nothing new: nothing yielded and the checkpoint stays put.
	stdout, stderr, err = runCLI(t, "", args...)
	require.NoError(t, err)
	assert.Empty(t, replayedIDs(t, stdout))
	assert.Contains(t, stderr, "checkpoint advanced to 2026-02-07T08:00:00Z (1 id(s))")

	stdout, _, err = runCLI(t, "", "--root", root, "checkpoint", "show", "scorer")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Stream:   signals")
	assert.Contains(t, stdout, "Boundary: 2026-02-07T08:00:00Z")
	assert.Contains(t, stdout, "IDs:      s5")
}

func TestReplayCheckpointMismatch(t *testing.T) {
	root := seedStore(t)
	_, _, err := runCLI(t, "", "--root", root, "replay", "--stream", "signals",
		"--start", "2026-02-01", "--end", "2026-03-01", "--checkpoint", "scorer", "--advance")
	require.NoError(t, err)

	// The signals checkpoint is ignored when replaying emissions...
	_, _, err = runCLI(t, "", "--root", root, "replay", "--stream", "emissions",
		"--start", "2026-02-01", "--end", "2026-03-01", "--checkpoint", "scorer")
	require.NoError(t, err)

	// ...unless the replay is strict.
	_, _, err = runCLI(t, "", "--root", root, "replay", "--stream", "emissions",
		"--start", "2026-02-01", "--end", "2026-03-01", "--checkpoint", "scorer", "--strict")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
