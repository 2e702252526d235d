package store

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/roach88/logstore/internal/record"
)

// dupIndex maps record IDs to the partition holding them, for one stream.
//
// Invariant: an ID is present iff a record with that ID has been appended to
// some partition of the stream (found by hydration or registered by a write
// through this handle).
//
// mu guards every field and is held by Write across lookup, append and
// register, so two writers cannot both miss the same ID.
//
// scanned lets a hydration that failed part-way resume without indexing a
// day twice.
type dupIndex struct {
	stream record.Stream
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	hydrated bool
	scanned  map[record.Day]bool
	ids      map[string]Location
}

func newDupIndex(stream record.Stream, dir string, logger *slog.Logger) *dupIndex {
	return &dupIndex{
		stream:  stream,
		dir:     dir,
		logger:  logger,
		scanned: make(map[record.Day]bool),
		ids:     make(map[string]Location),
	}
}

// hydrateLocked scans every partition not yet indexed. Any past day can hold
// a colliding ID, so the whole stream history is covered; a day is never
// scanned twice. Callers must hold mu.
func (x *dupIndex) hydrateLocked() error {
	if x.hydrated {
		return nil
	}

	days, err := listPartitions(x.dir)
	if err != nil {
		return err
	}
	for _, day := range days {
		if x.scanned[day] {
			continue
		}
		if err := x.scanDayLocked(day); err != nil {
			return err
		}
	}

	x.hydrated = true
	x.logger.Debug("duplicate index hydrated",
		"stream", x.stream, "partitions", len(days), "ids", len(x.ids))
	return nil
}

func (x *dupIndex) scanDayLocked(day record.Day) error {
	path := filepath.Join(x.dir, string(day)+partitionExt)
	p, err := openPartition(path)
	if err != nil {
		return err
	}
	x.scanned[day] = true
	if p == nil {
		return nil
	}
	defer p.close()

	loc := Location{Stream: x.stream, Day: day, Path: path}
	for {
		line, lineNo, ok, err := p.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		// Only lines replay would yield count as appended records.
		rec, err := record.DecodeLine(x.stream, line)
		if err != nil {
			x.logger.Debug("index hydration skipped malformed line",
				"stream", x.stream, "path", path, "line", lineNo, "error", err)
			continue
		}
		// First occurrence in (day ascending, append order) wins, matching
		// replay's duplicate suppression.
		if _, exists := x.ids[rec.ID]; !exists {
			x.ids[rec.ID] = loc
		}
	}
}

// lookupLocked returns the location of id, if indexed. Callers must hold mu
// and have hydrated the index.
func (x *dupIndex) lookupLocked(id string) (Location, bool) {
	loc, ok := x.ids[id]
	return loc, ok
}

// registerLocked records a successful append. Callers must hold mu and
// have hydrated the index.
func (x *dupIndex) registerLocked(id string, loc Location) {
	if _, exists := x.ids[id]; !exists {
		x.ids[id] = loc
	}
}

// Lookup returns the location of the record with the given ID, hydrating the
// stream's index on first use.
func (s *Store) Lookup(stream record.Stream, id string) (Location, bool, error) {
	idx, err := s.index(stream)
	if err != nil {
		return Location{}, false, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.hydrateLocked(); err != nil {
		return Location{}, false, err
	}
	loc, ok := idx.lookupLocked(id)
	return loc, ok, nil
}
