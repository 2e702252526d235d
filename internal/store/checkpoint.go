package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/roach88/logstore/internal/record"
)

// Checkpoint is a resumable replay cursor.
//
// BoundaryTimestamp is the greatest occurred_at a consumer has processed;
// BoundaryIDs are the processed records at exactly that timestamp. Records
// are not stored in occurred_at order, so a bare high-water mark would
// either skip unprocessed siblings at the boundary or repeat processed ones.
//
// A Checkpoint handed to a caller is never mutated by the store.
type Checkpoint struct {
	// Stream the cursor belongs to. Empty matches any stream.
	Stream            record.Stream
	BoundaryTimestamp time.Time
	BoundaryIDs       []string
	SchemaVersion     string
}

// IsZero reports whether the checkpoint was never set.
func (c Checkpoint) IsZero() bool {
	return c.BoundaryTimestamp.IsZero()
}

// Covers reports whether rec was already processed according to c.
func (c Checkpoint) Covers(rec record.Record) bool {
	if rec.OccurredAt.Before(c.BoundaryTimestamp) {
		return true
	}
	return rec.OccurredAt.Equal(c.BoundaryTimestamp) && slices.Contains(c.BoundaryIDs, rec.ID)
}

// DeriveCheckpoint computes the cursor for a batch of processed records:
// the maximum occurred_at and the IDs carrying it. The batch need not be in
// timestamp order. Returns false for an empty batch (nothing to advance).
func DeriveCheckpoint(stream record.Stream, processed []record.Record) (Checkpoint, bool) {
	return Checkpoint{Stream: stream}.Advance(processed)
}

// Advance returns the cursor covering both c and processed. Use it when a
// worker resumes from c and processes another batch: a batch whose maximum
// equals c's boundary must extend BoundaryIDs rather than replace them, or
// siblings processed before the restart would be replayed again.
//
// Returns false when neither c nor processed carries a timestamp.
func (c Checkpoint) Advance(processed []record.Record) (Checkpoint, bool) {
	next := Checkpoint{
		Stream:            c.Stream,
		BoundaryTimestamp: c.BoundaryTimestamp.UTC(),
		BoundaryIDs:       slices.Clone(c.BoundaryIDs),
		SchemaVersion:     record.SchemaVersion,
	}
	if c.IsZero() {
		next.BoundaryTimestamp = time.Time{}
		next.BoundaryIDs = nil
	}

	for _, rec := range processed {
		ts := rec.OccurredAt.UTC()
		switch {
		case next.BoundaryTimestamp.IsZero() || ts.After(next.BoundaryTimestamp):
			next.BoundaryTimestamp = ts
			next.BoundaryIDs = []string{rec.ID}
		case ts.Equal(next.BoundaryTimestamp):
			if !slices.Contains(next.BoundaryIDs, rec.ID) {
				next.BoundaryIDs = append(next.BoundaryIDs, rec.ID)
			}
		}
	}

	if next.IsZero() {
		return Checkpoint{}, false
	}
	return next, true
}

// match checks that c can be applied to a replay of stream.
func (c Checkpoint) match(stream record.Stream) error {
	if c.IsZero() {
		return newCheckpointMismatch("checkpoint was never set")
	}
	if c.Stream != "" && c.Stream != stream {
		return newCheckpointMismatch("checkpoint belongs to stream " + string(c.Stream) + ", replay is over " + string(stream))
	}
	return nil
}

// checkpointFile is the on-disk form. Keys are declared in sorted order.
type checkpointFile struct {
	LastTimestamp      string   `json:"last_timestamp"`
	SchemaVersion      string   `json:"schema_version"`
	SeenIDsAtTimestamp []string `json:"seen_ids_at_timestamp"`
	Stream             string   `json:"stream,omitempty"`
}

// MarshalJSON encodes the checkpoint in its on-disk form.
func (c Checkpoint) MarshalJSON() ([]byte, error) {
	ids := c.BoundaryIDs
	if ids == nil {
		ids = []string{}
	}
	version := c.SchemaVersion
	if version == "" {
		version = record.SchemaVersion
	}
	return json.Marshal(checkpointFile{
		LastTimestamp:      record.FormatTimestamp(c.BoundaryTimestamp),
		SchemaVersion:      version,
		SeenIDsAtTimestamp: ids,
		Stream:             string(c.Stream),
	})
}

// UnmarshalJSON decodes the on-disk form. Duplicate IDs are dropped,
// keeping first occurrence.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var f checkpointFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	ts, err := record.ParseTimestamp(f.LastTimestamp)
	if err != nil {
		return err
	}
	var ids []string
	for _, id := range f.SeenIDsAtTimestamp {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	version := f.SchemaVersion
	if version == "" {
		version = record.SchemaVersion
	}
	*c = Checkpoint{
		Stream:            record.Stream(f.Stream),
		BoundaryTimestamp: ts,
		BoundaryIDs:       ids,
		SchemaVersion:     version,
	}
	return nil
}

func (s *Store) checkpointPath(name string) string {
	return filepath.Join(s.checkpointDir(), name+".json")
}

// PersistCheckpoint stores c under name, replacing any previous checkpoint
// of that name. The file is published atomically. Returns its path.
func (s *Store) PersistCheckpoint(name string, c Checkpoint) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if c.IsZero() {
		return "", newCheckpointMismatch("refusing to persist an unset checkpoint")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	path := s.checkpointPath(name)
	if err := s.publishFile(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// LoadCheckpoint reads the checkpoint stored under name. A missing
// checkpoint returns false with no error. A file that does not decode is a
// CHECKPOINT_MISMATCH error.
func (s *Store) LoadCheckpoint(name string) (Checkpoint, bool, error) {
	if err := validateName(name); err != nil {
		return Checkpoint{}, false, err
	}
	path := s.checkpointPath(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, newStorageError("read checkpoint", path, err)
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		mismatch := newCheckpointMismatch("checkpoint file does not decode")
		mismatch.Path = path
		mismatch.Err = err
		return Checkpoint{}, false, mismatch
	}
	return c, true, nil
}
