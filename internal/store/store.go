package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/logstore/internal/record"
)

// Directory names beneath <root>/store.
const (
	storeDir       = "store"
	checkpointsDir = "checkpoints"
	snapshotsDir   = "snapshots"
	partitionExt   = ".jsonl"
)

// Clock supplies the current time for snapshots written without an
// explicit as-of.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Options configures a Store. The zero value is valid.
type Options struct {
	// Logger receives diagnostics (skipped lines, ignored checkpoints).
	// Nil discards them.
	Logger *slog.Logger

	// SyncWrites fsyncs every partition append and artifact publish.
	SyncWrites bool

	// StrictCheckpoints turns checkpoint mismatches into replay errors
	// for every replay, not only those that ask for it.
	StrictCheckpoints bool

	// Clock defaults to the wall clock.
	Clock Clock
}

// Store is a handle on one store root. It exclusively owns the files
// beneath <root>/store and the in-memory duplicate index built from them.
//
// One Store per root per process: two handles on the same root keep
// separate indexes and can both append the same ID.
type Store struct {
	root    string
	opts    Options
	logger  *slog.Logger
	clock   Clock
	indexes map[record.Stream]*dupIndex
}

// Open creates or opens a store rooted at root. Missing directories are
// created; existing partitions are left untouched and indexed lazily on the
// first write to their stream.
//
// This function is idempotent - safe to call multiple times.
func Open(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("open store: root is required")
	}

	s := &Store{
		root:    root,
		opts:    opts,
		logger:  opts.Logger,
		clock:   opts.Clock,
		indexes: make(map[record.Stream]*dupIndex, len(record.Streams)),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.clock == nil {
		s.clock = wallClock{}
	}

	dirs := []string{s.checkpointDir(), s.snapshotDir()}
	for _, stream := range record.Streams {
		dirs = append(dirs, s.streamDir(stream))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, newStorageError("create store directory", dir, err)
		}
	}

	for _, stream := range record.Streams {
		s.indexes[stream] = newDupIndex(stream, s.streamDir(stream), s.logger)
	}
	return s, nil
}

// DataDir returns <root>/store, the directory holding every file the
// store owns.
func (s *Store) DataDir() string {
	return filepath.Join(s.root, storeDir)
}

func (s *Store) streamDir(stream record.Stream) string {
	return filepath.Join(s.root, storeDir, string(stream))
}

func (s *Store) partitionPath(stream record.Stream, day record.Day) string {
	return filepath.Join(s.streamDir(stream), string(day)+partitionExt)
}

func (s *Store) checkpointDir() string {
	return filepath.Join(s.root, storeDir, checkpointsDir)
}

func (s *Store) snapshotDir() string {
	return filepath.Join(s.root, storeDir, snapshotsDir)
}

func (s *Store) index(stream record.Stream) (*dupIndex, error) {
	idx, ok := s.indexes[stream]
	if !ok {
		return nil, fmt.Errorf("unknown stream %q", stream)
	}
	return idx, nil
}
