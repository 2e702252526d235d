package store

import (
	"errors"
	"fmt"

	"github.com/roach88/logstore/internal/record"
)

// ErrorCode categorises store errors.
type ErrorCode string

const (
	// ErrCodeDuplicateRecord indicates a write rejected under the Raise
	// policy. Always recoverable: retry with another policy or treat the
	// existing record as success.
	ErrCodeDuplicateRecord ErrorCode = "DUPLICATE_RECORD"

	// ErrCodeMalformedRecord indicates a partition line that did not decode.
	// Reported per line; never fatal to a replay.
	ErrCodeMalformedRecord ErrorCode = "MALFORMED_RECORD"

	// ErrCodeCheckpointMismatch indicates a checkpoint that cannot apply to
	// the replay it was given to (unset, or another stream's).
	ErrCodeCheckpointMismatch ErrorCode = "CHECKPOINT_MISMATCH"

	// ErrCodeStorageUnavailable indicates a filesystem failure. Always
	// surfaced, never retried inside the store.
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"

	// ErrCodeInvalidRecord indicates a record missing the fields the store
	// depends on (id, occurred_at).
	ErrCodeInvalidRecord ErrorCode = "INVALID_RECORD"
)

// ErrSnapshotExists is returned when a timestamp-keyed snapshot already
// exists with different content.
var ErrSnapshotExists = errors.New("snapshot already exists")

// Error is the structured error returned by store operations.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Stream identifies the affected stream, if any.
	Stream record.Stream

	// ID is the affected record ID, if any.
	ID string

	// Location is the pre-existing record for duplicates.
	Location *Location

	// Path is the affected file, if any.
	Path string

	// Line is the 1-based partition line for malformed records.
	Line int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.ID != "" && e.Location != nil:
		msg = fmt.Sprintf("%s (stream=%s, id=%s, day=%s)", msg, e.Stream, e.ID, e.Location.Day)
	case e.Path != "" && e.Line > 0:
		msg = fmt.Sprintf("%s (%s:%d)", msg, e.Path, e.Line)
	case e.Path != "":
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsDuplicate reports whether err is a DUPLICATE_RECORD error.
func IsDuplicate(err error) bool { return hasCode(err, ErrCodeDuplicateRecord) }

// IsMalformed reports whether err is a MALFORMED_RECORD error.
func IsMalformed(err error) bool { return hasCode(err, ErrCodeMalformedRecord) }

// IsCheckpointMismatch reports whether err is a CHECKPOINT_MISMATCH error.
func IsCheckpointMismatch(err error) bool { return hasCode(err, ErrCodeCheckpointMismatch) }

// IsStorageUnavailable reports whether err is a STORAGE_UNAVAILABLE error.
func IsStorageUnavailable(err error) bool { return hasCode(err, ErrCodeStorageUnavailable) }

// IsInvalidRecord reports whether err is an INVALID_RECORD error.
func IsInvalidRecord(err error) bool { return hasCode(err, ErrCodeInvalidRecord) }

func newDuplicateError(stream record.Stream, id string, loc Location) *Error {
	return &Error{
		Code:     ErrCodeDuplicateRecord,
		Message:  "record already exists",
		Stream:   stream,
		ID:       id,
		Location: &loc,
	}
}

func newStorageError(op, path string, err error) *Error {
	return &Error{
		Code:    ErrCodeStorageUnavailable,
		Message: op,
		Path:    path,
		Err:     err,
	}
}

func newMalformedError(stream record.Stream, path string, line int, err error) *Error {
	return &Error{
		Code:    ErrCodeMalformedRecord,
		Message: "partition line is not a complete record",
		Stream:  stream,
		Path:    path,
		Line:    line,
		Err:     err,
	}
}

func newCheckpointMismatch(reason string) *Error {
	return &Error{
		Code:    ErrCodeCheckpointMismatch,
		Message: reason,
	}
}
