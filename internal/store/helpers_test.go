package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/logstore/internal/record"
	"github.com/roach88/logstore/internal/testutil"
)

// openTestStore opens a store in a fresh temp directory with a step clock.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{Clock: testutil.NewStepClock(testutil.Epoch, time.Second)})
	require.NoError(t, err)
	return s
}

// mustWrite writes rec under ReturnExisting and fails the test on error.
func mustWrite(t *testing.T, s *Store, stream record.Stream, rec record.Record) Outcome {
	t.Helper()
	outcome, err := s.Write(context.Background(), stream, rec, ReturnExisting)
	require.NoError(t, err)
	return outcome
}

// wholeMonth covers every fixture timestamp built with testutil.At.
func wholeMonth(stream record.Stream) ReplayQuery {
	return ReplayQuery{
		Stream: stream,
		Start:  testutil.At(1, 0, 0),
		End:    testutil.At(28, 0, 0),
	}
}

// replayIDs drains a replay and returns the yielded IDs in order.
func replayIDs(t *testing.T, s *Store, q ReplayQuery) []string {
	t.Helper()
	it, err := s.Replay(context.Background(), q)
	require.NoError(t, err)
	recs, err := it.All()
	require.NoError(t, err)
	return idsOf(recs)
}

func idsOf(recs []record.Record) []string {
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	return ids
}

// appendRaw appends text to a partition file as-is, the way a manual edit
// or a crash mid-append would leave it.
func appendRaw(t *testing.T, s *Store, stream record.Stream, day record.Day, text string) {
	t.Helper()
	f, err := os.OpenFile(s.partitionPath(stream, day), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

// encode renders rec as a partition line for fixtures written by hand.
func encode(t *testing.T, stream record.Stream, rec record.Record) string {
	t.Helper()
	line, err := record.EncodeLine(stream, rec)
	require.NoError(t, err)
	return string(line)
}
