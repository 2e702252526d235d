package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/logstore/internal/record"
	"github.com/roach88/logstore/internal/store"
)

// newIDGenerator supplies IDs for --generate-ids. Tests replace it.
var newIDGenerator = func() record.IDGenerator { return record.UUIDv7Generator{} }

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Stream      string
	Input       string
	OnDuplicate string
	GenerateIDs bool
}

// WriteOutcome is the per-record line of a write report.
type WriteOutcome struct {
	ID     string              `json:"id"`
	Status store.OutcomeStatus `json:"status"`
	Day    record.Day          `json:"day,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// WriteResult summarises one write command.
type WriteResult struct {
	Stream    record.Stream  `json:"stream"`
	Created   int            `json:"created"`
	Duplicate int            `json:"duplicate"`
	Failed    int            `json:"failed"`
	Outcomes  []WriteOutcome `json:"outcomes"`
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Append JSON-lines records to a stream",
		Long: `Append records to a stream. Input is one JSON record per line, using the
same keys as the partition files (id, occurred_at, entity_ref, source or
emission_type, payload_type, payload, caused_by).

Writes are idempotent by id. --on-duplicate selects what happens when an id
already exists: return_existing (default) and ignore skip it, raise fails it.

Exit codes:
  0 - Every record was created or already existed
  1 - At least one record was rejected
  2 - Command error (unreadable input, storage unavailable, etc.)

Examples:
  logstore write --stream signals --input signals.jsonl
  cat emissions.jsonl | logstore write --stream emissions --on-duplicate raise`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "target stream: signals|emissions (required)")
	_ = cmd.MarkFlagRequired("stream")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", "input file, - for stdin")
	cmd.Flags().StringVar(&opts.OnDuplicate, "on-duplicate", "", "duplicate policy: return_existing|ignore|raise (default from config)")
	cmd.Flags().BoolVar(&opts.GenerateIDs, "generate-ids", false, "assign an id to records that have none")

	return cmd
}

func runWrite(opts *WriteOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	stream, err := record.ParseStream(opts.Stream)
	if err != nil {
		return commandError(formatter, "invalid --stream", err)
	}

	st, err := opts.openStore(cmd)
	if err != nil {
		return err
	}

	policy, err := opts.Config().Policy()
	if opts.OnDuplicate != "" {
		policy, err = store.ParseDuplicatePolicy(opts.OnDuplicate)
	}
	if err != nil {
		return commandError(formatter, "invalid --on-duplicate", err)
	}

	in := cmd.InOrStdin()
	if opts.Input != "-" && opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return commandError(formatter, "failed to open input", err)
		}
		defer f.Close()
		in = f
	}

	var gen record.IDGenerator
	if opts.GenerateIDs {
		gen = newIDGenerator()
	}
	recs, err := readRecords(in, stream, gen)
	if err != nil {
		return commandError(formatter, "failed to read input", err)
	}
	formatter.VerboseLog("Read %d record(s) for %s", len(recs), stream)

	outcomes, err := st.WriteMany(ctx, stream, recs, policy)
	if err != nil {
		return commandError(formatter, "write failed", err)
	}

	result := WriteResult{Stream: stream, Outcomes: make([]WriteOutcome, 0, len(outcomes))}
	for _, o := range outcomes {
		view := WriteOutcome{ID: o.ID, Status: o.Status, Day: o.Location.Day}
		switch o.Status {
		case store.Created:
			result.Created++
		case store.Duplicate:
			result.Duplicate++
		case store.Failed:
			result.Failed++
			if o.Err != nil {
				view.Error = o.Err.Error()
			}
		}
		result.Outcomes = append(result.Outcomes, view)
	}

	return outputWriteResult(formatter, result)
}

// readRecords decodes one record per non-blank line. With gen set, records
// lacking an id get a generated one.
func readRecords(r io.Reader, stream record.Stream, gen record.IDGenerator) ([]record.Record, error) {
	var recs []record.Record

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if gen != nil {
			withID, err := ensureID(line, gen)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			line = withID
		}
		rec, err := record.DecodeLine(stream, line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func ensureID(line []byte, gen record.IDGenerator) ([]byte, error) {
	if _, ok := record.ReadID(line); ok {
		return line, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("decode line: %w", err)
	}
	id, err := json.Marshal(gen.Generate())
	if err != nil {
		return nil, err
	}
	fields["id"] = id
	return json.Marshal(fields)
}

func outputWriteResult(formatter *OutputFormatter, result WriteResult) error {
	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, o := range result.Outcomes {
			switch o.Status {
			case store.Created:
				fmt.Fprintf(w, "✓ created   %s (%s)\n", o.ID, o.Day)
			case store.Duplicate:
				fmt.Fprintf(w, "= duplicate %s (%s)\n", o.ID, o.Day)
			default:
				fmt.Fprintf(w, "✗ failed    %s: %s\n", o.ID, o.Error)
			}
		}
		fmt.Fprintf(w, "\n%s: %d created, %d duplicate, %d failed\n",
			result.Stream, result.Created, result.Duplicate, result.Failed)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) rejected", result.Failed))
	}
	return nil
}
