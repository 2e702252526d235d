package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/logstore/internal/config"
	"github.com/roach88/logstore/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Root       string // overrides config root

	cfg    *config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the logstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "logstore",
		Short: "logstore - durable signal and emission log",
		Long: `An append-only, day-partitioned log of signals and emissions with
idempotent writes, deterministic windowed replay, resumable checkpoints and
dated snapshots.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", "", "store root directory (overrides config)")

	cmd.AddCommand(NewWriteCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig resolves the effective configuration once: file (or defaults),
// then flag overrides. Diagnostics go to the command's stderr.
func (o *RootOptions) loadConfig(cmd *cobra.Command) error {
	if o.cfg != nil {
		return nil
	}

	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return commandError(o.formatter(cmd), "failed to load config", err)
		}
		cfg = loaded
	}
	if o.Root != "" {
		cfg.Root = o.Root
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}

	o.cfg = &cfg
	o.logger = cfg.NewLogger(cmd.ErrOrStderr())
	return nil
}

// Config returns the effective configuration. Valid after loadConfig.
func (o *RootOptions) Config() config.Config {
	if o.cfg == nil {
		return config.Default()
	}
	return *o.cfg
}

// openStore opens the configured store root.
func (o *RootOptions) openStore(cmd *cobra.Command) (*store.Store, error) {
	if err := o.loadConfig(cmd); err != nil {
		return nil, err
	}
	st, err := store.Open(o.cfg.Root, o.cfg.StoreOptions(o.logger))
	if err != nil {
		return nil, commandError(o.formatter(cmd), "failed to open store", err)
	}
	return st, nil
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}
