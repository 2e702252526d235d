package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/logstore/internal/record"
	"github.com/roach88/logstore/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Query      queryFlags
	Checkpoint string // optional - resume from this named checkpoint
	Strict     bool
	Advance    bool
	Verify     bool
	Quiet      bool
}

// ReplayResult holds the replay output.
type ReplayResult struct {
	Stream        record.Stream     `json:"stream"`
	Records       []json.RawMessage `json:"records"`
	Stats         store.ReplayStats `json:"stats"`
	Digest        string            `json:"digest"`
	Deterministic *bool             `json:"deterministic,omitempty"`
	Checkpoint    *store.Checkpoint `json:"checkpoint,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a stream window in deterministic order",
		Long: `Replay the records of one stream whose occurred_at falls in [start, end).

Records come out in (day ascending, append order) with repeated ids
suppressed; text output is one canonical JSON line per record. With
--checkpoint, records the named checkpoint already covers are skipped, and
--advance moves that checkpoint past everything yielded.

Exit codes:
  0 - Replay succeeded (and verified deterministic, with --verify)
  1 - Determinism verification failed
  2 - Command error (bad window, checkpoint mismatch under --strict, etc.)

Examples:
  logstore replay --stream signals --start 2026-02-05 --end 2026-02-06
  logstore replay --stream emissions --start 2026-02-01 --end 2026-03-01 --entity e1
  logstore replay --stream signals --start 2026-02-01 --end 2026-03-01 --checkpoint scores --advance
  logstore replay --stream signals --start 2026-02-01 --end 2026-03-01 --verify --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	opts.Query.bind(cmd)
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", "resume from this named checkpoint")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail instead of ignoring a mismatched checkpoint")
	cmd.Flags().BoolVar(&opts.Advance, "advance", false, "persist the checkpoint advanced past the yielded records (requires --checkpoint)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "replay twice and compare digests")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "omit records; print only the summary")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	q, err := opts.Query.build()
	if err != nil {
		return commandError(formatter, "invalid replay query", err)
	}
	if opts.Advance && opts.Checkpoint == "" {
		return commandError(formatter, "invalid flags", fmt.Errorf("--advance requires --checkpoint"))
	}
	q.StrictCheckpoint = opts.Strict

	st, err := opts.openStore(cmd)
	if err != nil {
		return err
	}

	var prior *store.Checkpoint
	if opts.Checkpoint != "" {
		cp, ok, err := st.LoadCheckpoint(opts.Checkpoint)
		if err != nil {
			if !store.IsCheckpointMismatch(err) || opts.Strict || opts.Config().StrictCheckpoints {
				return commandError(formatter, "failed to load checkpoint", err)
			}
			formatter.VerboseLog("Ignoring unreadable checkpoint %s: %v", opts.Checkpoint, err)
		} else if ok {
			prior = &cp
			q.Checkpoint = &cp
		} else {
			formatter.VerboseLog("Checkpoint %s not found; replaying the whole window", opts.Checkpoint)
		}
	}

	recs, stats, digest, err := replayDigest(ctx, st, q)
	if err != nil {
		return commandError(formatter, "replay failed", err)
	}

	result := ReplayResult{
		Stream:  q.Stream,
		Records: make([]json.RawMessage, 0, len(recs)),
		Stats:   stats,
		Digest:  digest,
	}
	for _, rec := range recs {
		line, err := record.EncodeLine(q.Stream, rec)
		if err != nil {
			return commandError(formatter, "encode record", err)
		}
		result.Records = append(result.Records, json.RawMessage(line[:len(line)-1]))
	}

	if opts.Verify {
		_, _, again, err := replayDigest(ctx, st, q)
		if err != nil {
			return commandError(formatter, "verification replay failed", err)
		}
		deterministic := again == digest
		result.Deterministic = &deterministic
	}

	if opts.Advance {
		var next store.Checkpoint
		var ok bool
		if prior != nil && (prior.Stream == "" || prior.Stream == q.Stream) {
			next, ok = prior.Advance(recs)
			next.Stream = q.Stream
		} else {
			next, ok = store.DeriveCheckpoint(q.Stream, recs)
		}
		if ok {
			if _, err := st.PersistCheckpoint(opts.Checkpoint, next); err != nil {
				return commandError(formatter, "failed to persist checkpoint", err)
			}
			result.Checkpoint = &next
		}
	}

	if opts.Quiet {
		result.Records = nil
	}
	return outputReplayResult(formatter, result)
}

// replayDigest drains one replay, returning the records and their digest.
func replayDigest(ctx context.Context, st *store.Store, q store.ReplayQuery) ([]record.Record, store.ReplayStats, string, error) {
	it, err := st.Replay(ctx, q)
	if err != nil {
		return nil, store.ReplayStats{}, "", err
	}
	defer it.Close()

	digest := record.NewDigest(record.DomainReplay)
	var recs []record.Record
	for it.Next() {
		rec := it.Record()
		if err := digest.Add(q.Stream, rec); err != nil {
			return nil, store.ReplayStats{}, "", err
		}
		recs = append(recs, rec)
	}
	if err := it.Err(); err != nil {
		return nil, store.ReplayStats{}, "", err
	}
	return recs, it.Stats(), digest.Sum(), nil
}

// outputReplayResult writes records then the summary. Text mode prints the
// records on stdout and the summary on stderr so the output stays valid
// JSON lines.
func outputReplayResult(formatter *OutputFormatter, result ReplayResult) error {
	failed := result.Deterministic != nil && !*result.Deterministic

	if formatter.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if failed {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    ErrCodeDeterminism,
				Message: "determinism verification failed",
			}
		}
		if err := json.NewEncoder(formatter.Writer).Encode(response); err != nil {
			return err
		}
	} else {
		for _, line := range result.Records {
			fmt.Fprintf(formatter.Writer, "%s\n", line)
		}

		w := formatter.GetErrWriter()
		s := result.Stats
		fmt.Fprintf(w, "%s: %d record(s) from %d partition(s)", result.Stream, s.Yielded, s.Partitions)
		fmt.Fprintf(w, " (filtered %d, checkpointed %d, duplicate %d, malformed %d)\n",
			s.Filtered, s.CheckpointSkipped, s.Duplicates, s.Malformed)
		fmt.Fprintf(w, "digest: %s\n", result.Digest)
		if result.Deterministic != nil {
			if *result.Deterministic {
				fmt.Fprintln(w, "✓ Replay verified deterministic")
			} else {
				fmt.Fprintln(w, "✗ Determinism verification failed")
			}
		}
		if result.Checkpoint != nil {
			fmt.Fprintf(w, "checkpoint advanced to %s (%d id(s))\n",
				record.FormatTimestamp(result.Checkpoint.BoundaryTimestamp), len(result.Checkpoint.BoundaryIDs))
		}
	}

	if failed {
		// Determinism failure = exit code 1
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}
