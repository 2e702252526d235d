package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/logstore/internal/store"
)

// SnapshotOptions holds flags for the snapshot commands.
type SnapshotOptions struct {
	*RootOptions
	AsOf  string
	Input string
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write, read and list dated snapshots",
		Long: `Snapshots are named point-in-time artifacts kept beside the log.

A snapshot keyed by day (--as-of 2026-02-05) is replaced by a later write
for the same day. A snapshot keyed by instant (--as-of 2026-02-05T14:30:00Z,
or no --as-of for "now") is never replaced.`,
	}
	cmd.AddCommand(newSnapshotWriteCommand(rootOpts))
	cmd.AddCommand(newSnapshotReadCommand(rootOpts))
	cmd.AddCommand(newSnapshotListCommand(rootOpts))
	return cmd
}

func newSnapshotWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "write <name>",
		Short: "Store a JSON payload as a snapshot",
		Example: `  logstore snapshot write digest --as-of 2026-02-05 --input digest.json
  echo '{"n":1}' | logstore snapshot write adhoc`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotWrite(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "day (YYYY-MM-DD) or instant (RFC 3339); default now")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", "payload file, - for stdin")
	return cmd
}

func newSnapshotReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           "read <name>",
		Short:         "Print a snapshot payload",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotRead(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "day (YYYY-MM-DD) or instant (required)")
	_ = cmd.MarkFlagRequired("as-of")
	return cmd
}

func newSnapshotListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <name>",
		Short:         "List the as-of keys stored for a snapshot name",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotList(rootOpts, args[0], cmd)
		},
	}
}

func runSnapshotWrite(opts *SnapshotOptions, name string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var asOf store.AsOf
	if opts.AsOf != "" {
		parsed, err := store.ParseAsOf(opts.AsOf)
		if err != nil {
			return commandError(formatter, "invalid --as-of", err)
		}
		asOf = parsed
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
	payload, err := io.ReadAll(in)
	if err != nil {
		return commandError(formatter, "failed to read payload", err)
	}

	st, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	path, err := st.WriteSnapshot(name, asOf, json.RawMessage(payload))
	if err != nil {
		return commandError(formatter, "failed to write snapshot", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"name": name, "path": path})
	}
	fmt.Fprintf(formatter.Writer, "✓ Wrote snapshot %s to %s\n", name, path)
	return nil
}

func runSnapshotRead(opts *SnapshotOptions, name string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	asOf, err := store.ParseAsOf(opts.AsOf)
	if err != nil {
		return commandError(formatter, "invalid --as-of", err)
	}

	st, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	snap, ok, err := st.ReadSnapshot(name, asOf)
	if err != nil {
		return commandError(formatter, "failed to read snapshot", err)
	}
	if !ok {
		msg := fmt.Sprintf("snapshot %s@%s not found", name, asOf.Key())
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	if formatter.Format == "json" {
		return formatter.Success(snap)
	}
	fmt.Fprintf(formatter.Writer, "%s\n", snap.Payload)
	return nil
}

func runSnapshotList(opts *RootOptions, name string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	keys, err := st.ListSnapshots(name)
	if err != nil {
		return commandError(formatter, "failed to list snapshots", err)
	}
	if keys == nil {
		keys = []string{}
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"name": name, "as_of": keys})
	}
	if len(keys) == 0 {
		fmt.Fprintf(formatter.Writer, "No snapshots named %s.\n", name)
		return nil
	}
	for _, key := range keys {
		fmt.Fprintln(formatter.Writer, key)
	}
	return nil
}
