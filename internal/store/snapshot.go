package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/logstore/internal/record"
)

// instantLayout keys timestamp snapshots to the second.
const instantLayout = "2006-01-02T150405Z"

// AsOf is the point in time a snapshot describes: either a calendar day or
// an exact instant.
//
// Day-keyed snapshots are recurring reports; writing one again for the same
// day replaces it. Instant-keyed snapshots are ad hoc and never replaced.
type AsOf struct {
	day record.Day
	at  time.Time
}

// OnDay keys a snapshot by calendar day.
func OnDay(day record.Day) AsOf {
	return AsOf{day: day}
}

// At keys a snapshot by instant, truncated to the second.
func At(t time.Time) AsOf {
	return AsOf{at: t.UTC().Truncate(time.Second)}
}

// IsZero reports whether neither a day nor an instant is set.
func (a AsOf) IsZero() bool {
	return a.day == "" && a.at.IsZero()
}

// IsDay reports whether the snapshot is day-keyed.
func (a AsOf) IsDay() bool {
	return a.day != ""
}

// Key returns the as-of component of the snapshot file name.
func (a AsOf) Key() string {
	if a.day != "" {
		return string(a.day)
	}
	return a.at.Format(instantLayout)
}

// String implements fmt.Stringer.
func (a AsOf) String() string { return a.Key() }

// ParseAsOf parses a Key: YYYY-MM-DD for days, YYYY-MM-DDTHHMMSSZ or
// RFC 3339 for instants.
func ParseAsOf(s string) (AsOf, error) {
	if day, err := record.ParseDay(s); err == nil {
		return OnDay(day), nil
	}
	if t, err := time.Parse(instantLayout, s); err == nil {
		return At(t), nil
	}
	if t, err := record.ParseTimestamp(s); err == nil {
		return At(t), nil
	}
	return AsOf{}, fmt.Errorf("invalid as-of %q: want YYYY-MM-DD, YYYY-MM-DDTHHMMSSZ or RFC 3339", s)
}

// Snapshot is a named point-in-time artifact.
type Snapshot struct {
	AsOf          string          `json:"as_of"`
	Name          string          `json:"name"`
	Payload       json.RawMessage `json:"payload"`
	SchemaVersion string          `json:"schema_version"`
}

// Daily report names recorded by the workers consuming the log.
const (
	ReportDigest      = "digest"
	ReportCalibration = "calibration"
	ReportCredibility = "credibility"
)

func (s *Store) snapshotPath(name string, asOf AsOf) string {
	return filepath.Join(s.snapshotDir(), name+keySeparator+asOf.Key()+".json")
}

// WriteSnapshot persists payload under (name, asOf) and returns the file
// path. The file is published atomically. A zero asOf means now, from the
// store's clock.
//
// Day-keyed snapshots overwrite any previous write for the same day.
// Instant-keyed snapshots are immutable: rewriting identical content is a
// no-op, differing content fails with ErrSnapshotExists.
func (s *Store) WriteSnapshot(name string, asOf AsOf, payload json.RawMessage) (string, error) {
	if err := validateName(name); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if asOf.IsZero() {
		asOf = At(s.clock.Now())
	}

	canonical, err := record.CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", name, err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Snapshot{
		AsOf:          asOf.Key(),
		Name:          name,
		Payload:       canonical,
		SchemaVersion: record.SchemaVersion,
	}); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", name, err)
	}
	data := buf.Bytes()

	path := s.snapshotPath(name, asOf)
	if !asOf.IsDay() {
		existing, err := os.ReadFile(path)
		switch {
		case err == nil:
			if bytes.Equal(existing, data) {
				return path, nil
			}
			return "", fmt.Errorf("write snapshot %s@%s: %w", name, asOf.Key(), ErrSnapshotExists)
		case !errors.Is(err, fs.ErrNotExist):
			return "", newStorageError("read existing snapshot", path, err)
		}
	}

	if err := s.publishFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ReadSnapshot returns the snapshot stored under (name, asOf). A missing
// snapshot returns false with no error.
func (s *Store) ReadSnapshot(name string, asOf AsOf) (Snapshot, bool, error) {
	if err := validateName(name); err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	if asOf.IsZero() {
		return Snapshot{}, false, fmt.Errorf("read snapshot %s: as-of is required", name)
	}

	path := s.snapshotPath(name, asOf)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, newStorageError("read snapshot", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshot %s: decode %s: %w", name, path, err)
	}
	return snap, true, nil
}

// ListSnapshots returns the as-of keys stored for name, ascending.
func (s *Store) ListSnapshots(name string) ([]string, error) {
	if err := validateName(name); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	entries, err := os.ReadDir(s.snapshotDir())
	if err != nil {
		return nil, newStorageError("list snapshots", s.snapshotDir(), err)
	}

	prefix := name + keySeparator
	var keys []string
	for _, entry := range entries {
		file := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(file, prefix) || filepath.Ext(file) != ".json" {
			continue
		}
		keys = append(keys, strings.TrimSuffix(strings.TrimPrefix(file, prefix), ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

// WriteReport stores a day-keyed report (digest, calibration, credibility),
// replacing an earlier report for the same day.
func (s *Store) WriteReport(kind string, day record.Day, report json.RawMessage) (string, error) {
	return s.WriteSnapshot(kind, OnDay(day), report)
}

// ReadReport returns the report of the given kind for day.
func (s *Store) ReadReport(kind string, day record.Day) (json.RawMessage, bool, error) {
	snap, ok, err := s.ReadSnapshot(kind, OnDay(day))
	if err != nil || !ok {
		return nil, ok, err
	}
	return snap.Payload, true, nil
}
