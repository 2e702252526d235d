// Package config loads logstore configuration from YAML files.
//
// Files are decoded strictly (unknown keys are errors) on top of Default()
// and the result is validated against the embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/logstore/internal/store"
)

//go:embed config.cue
var schemaSource string

// Config is the full set of settings for one store root.
type Config struct {
	Root              string    `yaml:"root" json:"root"`
	DuplicatePolicy   string    `yaml:"duplicate_policy" json:"duplicate_policy"`
	SyncWrites        bool      `yaml:"sync_writes" json:"sync_writes"`
	StrictCheckpoints bool      `yaml:"strict_checkpoints" json:"strict_checkpoints"`
	Log               LogConfig `yaml:"log" json:"log"`
}

// LogConfig selects the diagnostic log handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Root:            "data",
		DuplicatePolicy: "return_existing",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path and overlays it on Default(). An empty file yields the
// defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("config.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", formatCUEError(err))
	}
	return nil
}

// formatCUEError joins every CUE error into one line, first error first.
func formatCUEError(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Policy returns the configured duplicate policy.
func (c Config) Policy() (store.DuplicatePolicy, error) {
	return store.ParseDuplicatePolicy(c.DuplicatePolicy)
}

// StoreOptions returns the store options implied by cfg.
func (c Config) StoreOptions(logger *slog.Logger) store.Options {
	return store.Options{
		Logger:            logger,
		SyncWrites:        c.SyncWrites,
		StrictCheckpoints: c.StrictCheckpoints,
	}
}

// NewLogger builds the diagnostic logger described by c.Log, writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
