package store

import (
	"context"
	"fmt"

	"github.com/roach88/logstore/internal/record"
)

// DuplicatePolicy selects what a write does when its ID already exists.
type DuplicatePolicy int

const (
	// ReturnExisting skips the append and reports the original location.
	// This is the default.
	ReturnExisting DuplicatePolicy = iota

	// Ignore is an alias of ReturnExisting: same outcome, different name.
	Ignore

	// Raise rejects the write with a DUPLICATE_RECORD error.
	Raise
)

// String returns the policy's configuration name.
func (p DuplicatePolicy) String() string {
	switch p {
	case ReturnExisting:
		return "return_existing"
	case Ignore:
		return "ignore"
	case Raise:
		return "raise"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseDuplicatePolicy parses a policy name. The empty string selects
// ReturnExisting.
func ParseDuplicatePolicy(name string) (DuplicatePolicy, error) {
	switch name {
	case "", "return_existing":
		return ReturnExisting, nil
	case "ignore":
		return Ignore, nil
	case "raise":
		return Raise, nil
	default:
		return 0, fmt.Errorf("unknown duplicate policy %q: must be return_existing, ignore or raise", name)
	}
}

// OutcomeStatus is the result shape of one write.
type OutcomeStatus int

const (
	// Created means the record was appended.
	Created OutcomeStatus = iota + 1

	// Duplicate means the ID already existed and nothing was appended.
	Duplicate

	// Failed means the write was rejected; see Outcome.Err.
	Failed
)

// String implements fmt.Stringer.
func (s OutcomeStatus) String() string {
	switch s {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON output.
func (s OutcomeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *OutcomeStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []OutcomeStatus{Created, Duplicate, Failed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown outcome status %q", text)
}

// Outcome reports the result of writing one record.
//
// For Created, Location is where the record was appended. For Duplicate and
// for Failed duplicates, Location is where the original record lives.
type Outcome struct {
	ID       string        `json:"id"`
	Status   OutcomeStatus `json:"status"`
	Location Location      `json:"location"`
	Err      error         `json:"-"`
}

// Write appends rec to stream unless a record with the same ID exists, in
// which case policy decides the outcome. Writes to the same stream are
// serialised; the lock is released before Write returns.
//
// Returns a STORAGE_UNAVAILABLE error if the partition cannot be written,
// an INVALID_RECORD error for records without id or occurred_at, and under
// Raise a DUPLICATE_RECORD error together with a Failed outcome.
func (s *Store) Write(ctx context.Context, stream record.Stream, rec record.Record, policy DuplicatePolicy) (Outcome, error) {
	outcome := Outcome{ID: rec.ID}

	idx, err := s.index(stream)
	if err != nil {
		return outcome, fmt.Errorf("write: %w", err)
	}
	if policy < ReturnExisting || policy > Raise {
		return outcome, fmt.Errorf("write: invalid duplicate policy %d", int(policy))
	}

	line, err := record.EncodeLine(stream, rec)
	if err != nil {
		return outcome, &Error{
			Code:    ErrCodeInvalidRecord,
			Message: "record rejected",
			Stream:  stream,
			ID:      rec.ID,
			Err:     err,
		}
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.hydrateLocked(); err != nil {
		return outcome, err
	}

	if existing, ok := idx.lookupLocked(rec.ID); ok {
		outcome.Location = existing
		if policy == Raise {
			outcome.Status = Failed
			outcome.Err = newDuplicateError(stream, rec.ID, existing)
			return outcome, outcome.Err
		}
		outcome.Status = Duplicate
		return outcome, nil
	}

	loc, err := s.appendLine(stream, rec.Day(), line)
	if err != nil {
		return outcome, err
	}
	idx.registerLocked(rec.ID, loc)

	outcome.Status = Created
	outcome.Location = loc
	return outcome, nil
}

// WriteMany writes each record independently with the same policy and
// returns one outcome per input, in input order.
//
// Duplicates never stop the batch: under Raise the affected outcome is
// Failed with Err set and the remaining records are still written; the
// caller decides whether one failure spoils the batch. Invalid records are
// reported the same way. Storage failures stop the batch immediately and
// are returned with the outcomes produced so far.
func (s *Store) WriteMany(ctx context.Context, stream record.Stream, recs []record.Record, policy DuplicatePolicy) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(recs))
	for _, rec := range recs {
		outcome, err := s.Write(ctx, stream, rec, policy)
		if err != nil {
			if !IsDuplicate(err) && !IsInvalidRecord(err) {
				return outcomes, fmt.Errorf("write many: record %d (%q): %w", len(outcomes), rec.ID, err)
			}
			outcome.Status = Failed
			outcome.Err = err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
