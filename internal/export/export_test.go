package export

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logstore/internal/record"
	"github.com/roach88/logstore/internal/store"
	"github.com/roach88/logstore/internal/testutil"
)

// sliceSource feeds fixed records to Export.
type sliceSource struct {
	recs []record.Record
	i    int
	err  error
}

func (s *sliceSource) Next() bool {
	if s.i >= len(s.recs) {
		return false
	}
	s.i++
	return true
}

func (s *sliceSource) Record() record.Record { return s.recs[s.i-1] }
func (s *sliceSource) Err() error            { return s.err }

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "export.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_Pragmas(t *testing.T) {
	db := openTestDB(t)

	mode, err := db.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, v)
}

func TestOpen_MigratesOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.db")
	db, err := Open(path)
	require.NoError(t, err)

	// Pretend the database predates the causal index.
	_, err = db.db.Exec("DROP INDEX idx_records_caused_by")
	require.NoError(t, err)
	_, err = db.db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_records_caused_by'`,
	).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.db")
	for i := 0; i < 2; i++ {
		db, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, db.Close())
	}
}

func TestExport_FromReplay(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)

	recs := []record.Record{
		testutil.Emission("e-2", testutil.At(6, 1, 0)).Payload(`{"score":0.8}`).CausedBy("s-1").Build(),
		testutil.Emission("e-1", testutil.At(5, 1, 0)).Build(),
	}
	_, err = st.WriteMany(ctx, record.Emissions, recs, store.ReturnExisting)
	require.NoError(t, err)

	it, err := st.Replay(ctx, store.ReplayQuery{
		Stream: record.Emissions,
		Start:  testutil.At(1, 0, 0),
		End:    testutil.At(28, 0, 0),
	})
	require.NoError(t, err)
	defer it.Close()

	db := openTestDB(t)
	res, err := db.Export(ctx, record.Emissions, it)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 2}, res)

	got, err := db.Records(ctx, record.Emissions)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e-1", got[0].ID)
	assert.Equal(t, "e-2", got[1].ID)
	assert.Equal(t, "s-1", got[1].CausedBy)
	assert.JSONEq(t, `{"score":0.8}`, string(got[1].Payload))
	assert.True(t, got[1].OccurredAt.Equal(testutil.At(6, 1, 0)))
}

func TestExport_OverlappingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first := &sliceSource{recs: []record.Record{
		testutil.Signal("a", testutil.At(5, 1, 0)).Build(),
		testutil.Signal("b", testutil.At(5, 2, 0)).Build(),
	}}
	_, err := db.Export(ctx, record.Signals, first)
	require.NoError(t, err)

	second := &sliceSource{recs: []record.Record{
		testutil.Signal("b", testutil.At(5, 2, 0)).Build(),
		testutil.Signal("c", testutil.At(5, 3, 0)).Build(),
	}}
	res, err := db.Export(ctx, record.Signals, second)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 1, Existing: 1}, res)

	got, err := db.Records(ctx, record.Signals)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, rec := range got {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestExport_StreamsAreSeparate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.Export(ctx, record.Signals, &sliceSource{recs: []record.Record{
		testutil.Signal("x", testutil.At(5, 1, 0)).Build(),
	}})
	require.NoError(t, err)
	_, err = db.Export(ctx, record.Emissions, &sliceSource{recs: []record.Record{
		testutil.Emission("x", testutil.At(5, 1, 0)).Build(),
	}})
	require.NoError(t, err)

	n, err := db.Count(ctx, record.Signals)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = db.Count(ctx, record.Emissions)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExport_SourceErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	src := &sliceSource{
		recs: []record.Record{testutil.Signal("a", testutil.At(5, 1, 0)).Build()},
		err:  errors.New("disk gone"),
	}
	_, err := db.Export(ctx, record.Signals, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")

	n, err := db.Count(ctx, record.Signals)
	require.NoError(t, err)
	assert.Zero(t, n)
}
