package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/logstore/internal/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Query    queryFlags
	Database string
}

// ExportResult reports one export run.
type ExportResult struct {
	Database string `json:"database"`
	export.Result
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a replay window into a SQLite database",
		Long: `Replay a stream window and insert the records into a SQLite database for
ad hoc querying. Records already present (same stream and id) are kept, so
overlapping windows can be exported repeatedly.

Examples:
  logstore export --stream signals --start 2026-02-01 --end 2026-03-01 --db ./signals.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	opts.Query.bind(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	q, err := opts.Query.build()
	if err != nil {
		return commandError(formatter, "invalid replay query", err)
	}

	st, err := opts.openStore(cmd)
	if err != nil {
		return err
	}

	db, err := export.Open(opts.Database)
	if err != nil {
		return commandError(formatter, "failed to open database", err)
	}
	defer db.Close()

	it, err := st.Replay(ctx, q)
	if err != nil {
		return commandError(formatter, "replay failed", err)
	}
	defer it.Close()

	res, err := db.Export(ctx, q.Stream, it)
	if err != nil {
		return commandError(formatter, "export failed", err)
	}
	formatter.VerboseLog("Skipped %d malformed line(s)", it.Stats().Malformed)

	result := ExportResult{Database: opts.Database, Result: res}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Exported %s to %s: %d inserted, %d already present\n",
		q.Stream, opts.Database, res.Inserted, res.Existing)
	return nil
}
