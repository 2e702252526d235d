package store

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestError_Message(t *testing.T) {
	loc := Location{Stream: "signals", Day: "2026-02-05", Path: "/x/2026-02-05.jsonl"}

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "duplicate",
			err:  newDuplicateError("signals", "s-1", loc),
			want: "DUPLICATE_RECORD: record already exists (stream=signals, id=s-1, day=2026-02-05)",
		},
		{
			name: "malformed",
			err:  newMalformedError("signals", "/x/2026-02-05.jsonl", 3, errors.New("bad")),
			want: "MALFORMED_RECORD: partition line is not a complete record (/x/2026-02-05.jsonl:3): bad",
		},
		{
			name: "storage",
			err:  newStorageError("open partition", "/x", fs.ErrPermission),
			want: "STORAGE_UNAVAILABLE: open partition (/x): permission denied",
		},
		{
			name: "mismatch",
			err:  newCheckpointMismatch("checkpoint was never set"),
			want: "CHECKPOINT_MISMATCH: checkpoint was never set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_PredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("write many: %w", newStorageError("append", "/x", fs.ErrNotExist))

	if !IsStorageUnavailable(err) {
		t.Error("IsStorageUnavailable = false, want true")
	}
	if IsDuplicate(err) {
		t.Error("IsDuplicate = true, want false")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is(fs.ErrNotExist) = false, want true")
	}
	if IsMalformed(errors.New("plain")) {
		t.Error("IsMalformed(plain) = true, want false")
	}
}
