package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logstore/internal/export"
	"github.com/roach88/logstore/internal/record"
	"github.com/roach88/logstore/internal/testutil"
)

func TestWriteCommand_Idempotent(t *testing.T) {
	root := t.TempDir()

	stdout, _, err := runCLI(t, seedSignals, "--root", root, "write", "--stream", "signals")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ created   s1 (2026-02-05)")
	assert.Contains(t, stdout, "✓ created   s3 (2026-02-06)")
	assert.Contains(t, stdout, "signals: 3 created, 0 duplicate, 0 failed")

	stdout, _, err = runCLI(t, seedSignals, "--root", root, "write", "--stream", "signals")
	require.NoError(t, err)
	assert.Contains(t, stdout, "= duplicate s1 (2026-02-05)")
	assert.Contains(t, stdout, "signals: 0 created, 3 duplicate, 0 failed")

	data, err := os.ReadFile(filepath.Join(root, "store", "signals", "2026-02-05.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func newGolden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestWriteCommand_GoldenText(t *testing.T) {
	stdout, _, err := runCLI(t, seedSignals, "--root", t.TempDir(), "write", "--stream", "signals")
	require.NoError(t, err)
	newGolden(t).Assert(t, "write_text", []byte(stdout))
}

func TestCheckpointShow_GoldenText(t *testing.T) {
	root := seedStore(t)
	_, _, err := runCLI(t, "", "--root", root, "replay", "--stream", "signals",
		"--start", "2026-02-05", "--end", "2026-02-06", "--checkpoint", "digest", "--advance")
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "", "--root", root, "checkpoint", "show", "digest")
	require.NoError(t, err)
	newGolden(t).Assert(t, "checkpoint_show_text", []byte(stdout))
}

func TestWriteCommand_Raise(t *testing.T) {
	root := t.TempDir()
	_, _, err := runCLI(t, seedSignals, "--root", root, "write", "--stream", "signals")
	require.NoError(t, err)

	stdout, _, err := runCLI(t, seedSignals, "--root", root, "--format", "json",
		"write", "--stream", "signals", "--on-duplicate", "raise")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string      `json:"status"`
		Data   WriteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, 3, resp.Data.Failed)
	require.Len(t, resp.Data.Outcomes, 3)
	assert.Equal(t, "s1", resp.Data.Outcomes[0].ID)
	assert.Contains(t, resp.Data.Outcomes[0].Error, "DUPLICATE_RECORD")
}

func TestWriteCommand_BadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		args  []string
	}{
		{"not_json", "{not json}\n", nil},
		{"missing_id", `{"occurred_at":"2026-02-05T10:00:00Z","source":"route","payload_type":"Seen"}` + "\n", nil},
		{"bad_stream", seedSignals, []string{"--stream", "audits"}},
		{"bad_policy", seedSignals, []string{"--on-duplicate", "overwrite"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []string{"--root", t.TempDir(), "write", "--stream", "signals"}
			args = append(args, tt.args...)
			_, _, err := runCLI(t, tt.input, args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestWriteCommand_GenerateIDs(t *testing.T) {
	gen := testutil.NewSequentialIDs("gen")
	orig := newIDGenerator
	newIDGenerator = func() record.IDGenerator { return gen }
	t.Cleanup(func() { newIDGenerator = orig })

	input := `{"occurred_at":"2026-02-05T10:00:00Z","emission_type":"Alert","payload_type":"Alert"}
{"id":"keep","occurred_at":"2026-02-05T11:00:00Z","emission_type":"Alert","payload_type":"Alert"}
`
	stdout, _, err := runCLI(t, input, "--root", t.TempDir(), "write", "--stream", "emissions", "--generate-ids")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ created   gen-1 (2026-02-05)")
	assert.Contains(t, stdout, "✓ created   keep (2026-02-05)")
}

func TestWriteCommand_InputFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signals.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(seedSignals), 0o644))

	stdout, _, err := runCLI(t, "", "--root", filepath.Join(dir, "root"), "write", "--stream", "signals", "-i", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 created")
}

func TestCheckpointShow_NotFound(t *testing.T) {
	stdout, _, err := runCLI(t, "", "--root", t.TempDir(), "checkpoint", "show", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E006]")
}

func TestCheckpointShow_JSON(t *testing.T) {
	root := seedStore(t)
	_, _, err := runCLI(t, "", "--root", root, "replay", "--stream", "signals",
		"--start", "2026-02-05", "--end", "2026-02-06", "--checkpoint", "digest", "--advance")
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "", "--root", root, "--format", "json", "checkpoint", "show", "digest")
	require.NoError(t, err)

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "2026-02-05T11:00:00Z", resp.Data["last_timestamp"])
	assert.Equal(t, []any{"s2"}, resp.Data["seen_ids_at_timestamp"])
	assert.Equal(t, "signals", resp.Data["stream"])
}

func TestSnapshotCommands(t *testing.T) {
	root := t.TempDir()

	_, _, err := runCLI(t, `{"b":1,"a":2}`, "--root", root, "snapshot", "write", "digest", "--as-of", "2026-02-05")
	require.NoError(t, err)

	// Day-keyed snapshots are replaced.
	_, _, err = runCLI(t, `{"b":3,"a":4}`, "--root", root, "snapshot", "write", "digest", "--as-of", "2026-02-05")
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "", "--root", root, "snapshot", "read", "digest", "--as-of", "2026-02-05")
	require.NoError(t, err)
	assert.Equal(t, `{"a":4,"b":3}`+"\n", stdout)

	// Instant-keyed snapshots are not.
	_, _, err = runCLI(t, `{"n":1}`, "--root", root, "snapshot", "write", "digest", "--as-of", "2026-02-05T14:30:00Z")
	require.NoError(t, err)
	_, _, err = runCLI(t, `{"n":1}`, "--root", root, "snapshot", "write", "digest", "--as-of", "2026-02-05T14:30:00Z")
	require.NoError(t, err, "identical rewrite is a no-op")

	stdout, _, err = runCLI(t, `{"n":2}`, "--root", root, "--format", "json",
		"snapshot", "write", "digest", "--as-of", "2026-02-05T14:30:00Z")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeExists, resp.Error.Code)

	stdout, _, err = runCLI(t, "", "--root", root, "snapshot", "list", "digest")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-05\n2026-02-05T143000Z\n", stdout)
}

func TestSnapshotCommands_Missing(t *testing.T) {
	root := t.TempDir()

	stdout, _, err := runCLI(t, "", "--root", root, "snapshot", "list", "digest")
	require.NoError(t, err)
	assert.Equal(t, "No snapshots named digest.\n", stdout)

	_, _, err = runCLI(t, "", "--root", root, "snapshot", "read", "digest", "--as-of", "2026-02-05")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = runCLI(t, "not json", "--root", root, "snapshot", "write", "digest", "--as-of", "2026-02-05")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExportCommand(t *testing.T) {
	root := seedStore(t)
	dbPath := filepath.Join(t.TempDir(), "signals.db")
	args := []string{"--root", root, "export", "--stream", "signals",
		"--start", "2026-02-01", "--end", "2026-03-01", "--db", dbPath}

	stdout, _, err := runCLI(t, "", args...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 inserted, 0 already present")

	stdout, _, err = runCLI(t, "", args...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 inserted, 3 already present")

	db, err := export.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.Count(context.Background(), record.Signals)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBackupRestoreCommands(t *testing.T) {
	root := seedStore(t)
	_, _, err := runCLI(t, `{"n":1}`, "--root", root, "snapshot", "write", "digest", "--as-of", "2026-02-05")
	require.NoError(t, err)

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	stdout, _, err := runCLI(t, "", "--root", root, "backup", "-o", archive)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Archived 3 file(s)")

	restored := t.TempDir()
	stdout, _, err = runCLI(t, "", "--root", restored, "restore", "-i", archive)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Restored 3 file(s)")

	out, _, err := runCLI(t, "", "--root", restored, "replay", "--stream", "signals",
		"--start", "2026-02-01", "--end", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, replayedIDs(t, out))

	// Restoring over existing files fails.
	_, _, err = runCLI(t, "", "--root", restored, "restore", "-i", archive)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
