package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/logstore/internal/record"
	"github.com/roach88/logstore/internal/store"
)

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect named replay checkpoints",
	}
	cmd.AddCommand(newCheckpointShowCommand(rootOpts))
	return cmd
}

func newCheckpointShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a checkpoint",
		Long: `Print the boundary timestamp and boundary ids of a named checkpoint.

Exit codes:
  0 - Checkpoint printed
  2 - Checkpoint missing or unreadable`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointShow(rootOpts, args[0], cmd)
		},
	}
}

func runCheckpointShow(opts *RootOptions, name string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := opts.openStore(cmd)
	if err != nil {
		return err
	}

	cp, ok, err := st.LoadCheckpoint(name)
	if err != nil {
		return commandError(formatter, "failed to load checkpoint", err)
	}
	if !ok {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("checkpoint %q not found", name), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("checkpoint %q not found", name))
	}

	if formatter.Format == "json" {
		return formatter.Success(cp)
	}
	return outputCheckpointText(formatter, name, cp)
}

func outputCheckpointText(formatter *OutputFormatter, name string, cp store.Checkpoint) error {
	w := formatter.Writer
	stream := string(cp.Stream)
	if stream == "" {
		stream = "(any)"
	}
	fmt.Fprintf(w, "Checkpoint: %s\n", name)
	fmt.Fprintf(w, "  Stream:   %s\n", stream)
	fmt.Fprintf(w, "  Boundary: %s\n", record.FormatTimestamp(cp.BoundaryTimestamp))
	fmt.Fprintf(w, "  IDs:      %s\n", strings.Join(cp.BoundaryIDs, ", "))
	return nil
}
