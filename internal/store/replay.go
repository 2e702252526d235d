package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/logstore/internal/record"
)

// ReplayQuery selects the records a replay yields.
type ReplayQuery struct {
	Stream record.Stream

	// Start and End bound the half-open window [Start, End) on occurred_at.
	Start time.Time
	End   time.Time

	// EntityRef, if set, keeps only records with this entity reference.
	EntityRef string

	// Classifiers, if non-empty, keeps only records whose classifier
	// (source or emission type) is listed.
	Classifiers []string

	// Checkpoint, if set, drops records it covers.
	Checkpoint *Checkpoint

	// StrictCheckpoint fails the replay on a mismatched checkpoint instead
	// of ignoring it.
	StrictCheckpoint bool
}

// ReplayStats counts what a replay did with the lines it read.
type ReplayStats struct {
	Partitions        int `json:"partitions"`
	Lines             int `json:"lines"`
	Yielded           int `json:"yielded"`
	Filtered          int `json:"filtered"`
	CheckpointSkipped int `json:"checkpoint_skipped"`
	Duplicates        int `json:"duplicates"`
	Malformed         int `json:"malformed"`
}

// Iterator streams records one partition at a time. It is not safe for
// concurrent use. Typical use:
//
//	it, err := st.Replay(ctx, q)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//		rec := it.Record()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	ctx    context.Context
	s      *Store
	stream record.Stream
	days   []record.Day

	// filtering; all off for raw partition reads
	window      bool
	start, end  time.Time
	entityRef   string
	classifiers map[string]bool
	checkpoint  *Checkpoint
	dedupe      bool
	seen        map[string]struct{}

	// [priorFrom, priorTo) are window days skipped because the checkpoint
	// raised the start. IDs first stored there count as seen.
	priorFrom, priorTo record.Day

	dayIdx    int
	cur       *partitionReader
	rec       record.Record
	err       error
	closed    bool
	stats     ReplayStats
	malformed []*Error
}

// Replay returns a lazy iterator over the records of q.Stream in the window
// [q.Start, q.End).
//
// Order is (day ascending, append order within day) and is never re-sorted
// by occurred_at. Over that fixed order the iterator drops, in turn:
// records outside the window or failing the entity/classifier filters,
// records covered by q.Checkpoint, and repeats of an ID it already yielded
// (first seen wins). Replaying the same query over an unchanged store yields
// the same records in the same order.
//
// Partitions for days outside the window are never opened; with a
// checkpoint, days before its boundary are not opened either.
func (s *Store) Replay(ctx context.Context, q ReplayQuery) (*Iterator, error) {
	if _, err := s.index(q.Stream); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if q.End.Before(q.Start) {
		return nil, fmt.Errorf("replay: end %s is before start %s",
			record.FormatTimestamp(q.End), record.FormatTimestamp(q.Start))
	}

	it := &Iterator{
		ctx:       ctx,
		s:         s,
		stream:    q.Stream,
		window:    true,
		start:     q.Start.UTC(),
		end:       q.End.UTC(),
		entityRef: q.EntityRef,
		dedupe:    true,
		seen:      make(map[string]struct{}),
	}
	if len(q.Classifiers) > 0 {
		it.classifiers = make(map[string]bool, len(q.Classifiers))
		for _, c := range q.Classifiers {
			it.classifiers[c] = true
		}
	}

	effectiveStart := it.start
	if q.Checkpoint != nil {
		if err := q.Checkpoint.match(q.Stream); err != nil {
			if q.StrictCheckpoint || s.opts.StrictCheckpoints {
				return nil, fmt.Errorf("replay: %w", err)
			}
			s.logger.Warn("ignoring checkpoint", "stream", q.Stream, "reason", err.Error())
		} else {
			cp := *q.Checkpoint
			it.checkpoint = &cp
			if cp.BoundaryTimestamp.After(effectiveStart) {
				effectiveStart = cp.BoundaryTimestamp.UTC()
			}
		}
	}
	it.days = record.DaysBetween(effectiveStart, it.end)
	if from, to := record.DayOf(it.start), record.DayOf(effectiveStart); from < to {
		it.priorFrom, it.priorTo = from, to
	}
	return it, nil
}

// ReadPartition returns an iterator over every complete record in one
// partition, in append order, without filtering or duplicate suppression.
// A missing partition yields nothing.
func (s *Store) ReadPartition(ctx context.Context, stream record.Stream, day record.Day) (*Iterator, error) {
	if _, err := s.index(stream); err != nil {
		return nil, fmt.Errorf("read partition: %w", err)
	}
	return &Iterator{
		ctx:    ctx,
		s:      s,
		stream: stream,
		days:   []record.Day{day},
	}, nil
}

// Next advances to the next record. It returns false when the iterator is
// exhausted, closed, or has failed; check Err afterwards.
func (it *Iterator) Next() bool {
	for {
		if it.closed || it.err != nil {
			return false
		}
		if err := it.ctx.Err(); err != nil {
			it.fail(err)
			return false
		}

		if it.cur == nil {
			if it.dayIdx >= len(it.days) {
				it.Close()
				return false
			}
			day := it.days[it.dayIdx]
			it.dayIdx++
			p, err := openPartition(it.s.partitionPath(it.stream, day))
			if err != nil {
				it.fail(err)
				return false
			}
			if p == nil {
				continue
			}
			it.cur = p
			it.stats.Partitions++
		}

		line, lineNo, ok, err := it.cur.next()
		if err != nil {
			it.fail(err)
			return false
		}
		if !ok {
			it.closePartition()
			continue
		}
		it.stats.Lines++

		rec, err := record.DecodeLine(it.stream, line)
		if err != nil {
			it.noteMalformed(lineNo, err)
			continue
		}
		if !it.accept(rec) {
			continue
		}

		it.rec = rec
		it.stats.Yielded++
		return true
	}
}

// accept applies, in order: predicate filters, checkpoint skip, duplicate
// suppression. Checkpoint-skipped IDs count as seen.
func (it *Iterator) accept(rec record.Record) bool {
	if it.window {
		if rec.OccurredAt.Before(it.start) || !rec.OccurredAt.Before(it.end) {
			it.stats.Filtered++
			return false
		}
	}
	if it.entityRef != "" && rec.EntityRef != it.entityRef {
		it.stats.Filtered++
		return false
	}
	if it.classifiers != nil && !it.classifiers[rec.Classifier] {
		it.stats.Filtered++
		return false
	}
	if it.checkpoint != nil && it.checkpoint.Covers(rec) {
		// A processed record still claims its ID: later copies are repeats.
		if it.dedupe {
			it.seen[rec.ID] = struct{}{}
		}
		it.stats.CheckpointSkipped++
		return false
	}
	if it.dedupe {
		if _, dup := it.seen[rec.ID]; dup || it.claimedBefore(rec.ID) {
			it.stats.Duplicates++
			return false
		}
		it.seen[rec.ID] = struct{}{}
	}
	return true
}

// claimedBefore reports whether id was first stored in a day the checkpoint
// let the replay skip. Those partitions are never opened, so the duplicate
// index answers instead. A lookup failure stops the iterator.
func (it *Iterator) claimedBefore(id string) bool {
	if it.priorTo == "" {
		return false
	}
	loc, ok, err := it.s.Lookup(it.stream, id)
	if err != nil {
		it.fail(err)
		return true
	}
	return ok && loc.Day >= it.priorFrom && loc.Day < it.priorTo
}

func (it *Iterator) noteMalformed(lineNo int, err error) {
	merr := newMalformedError(it.stream, it.cur.path, lineNo, err)
	it.malformed = append(it.malformed, merr)
	it.stats.Malformed++
	it.s.logger.Warn("skipping malformed partition line",
		"stream", it.stream, "path", it.cur.path, "line", lineNo, "error", err)
}

// Record returns the current record. Valid only after Next returned true.
func (it *Iterator) Record() record.Record {
	return it.rec
}

// Err returns the error that stopped iteration, if any. Malformed lines are
// not errors; see Malformed.
func (it *Iterator) Err() error {
	return it.err
}

// Malformed returns the partition lines skipped so far because they did not
// decode, each as a MALFORMED_RECORD error.
func (it *Iterator) Malformed() []*Error {
	return it.malformed
}

// Stats returns counters for the lines read so far.
func (it *Iterator) Stats() ReplayStats {
	return it.stats
}

// Close releases the open partition, if any. Safe to call more than once;
// abandoning an iterator part-way is always safe.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.closePartition()
}

func (it *Iterator) closePartition() error {
	if it.cur == nil {
		return nil
	}
	err := it.cur.close()
	it.cur = nil
	return err
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.closePartition()
}

// All drains the iterator and closes it.
func (it *Iterator) All() ([]record.Record, error) {
	defer it.Close()
	var recs []record.Record
	for it.Next() {
		recs = append(recs, it.Record())
	}
	return recs, it.Err()
}
