package export

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/logstore/internal/record"
)

// Source yields records in replay order. *store.Iterator satisfies it.
type Source interface {
	Next() bool
	Record() record.Record
	Err() error
}

// Result counts what an export did.
type Result struct {
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
}

// Export copies every record from src into the records table for stream,
// in one transaction. Records already exported (same stream and id) are
// left untouched, so re-exporting an overlapping window is safe. New rows
// continue the stream's ordinal sequence.
func (d *DB) Export(ctx context.Context, stream record.Stream, src Source) (Result, error) {
	var res Result

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback()

	var ord int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ord), 0) FROM records WHERE stream = ?`, string(stream),
	).Scan(&ord); err != nil {
		return res, fmt.Errorf("read last ordinal: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (
			stream, id, ord, occurred_at, day, entity_ref, classifier,
			payload_type, payload, caused_by, schema_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream, id) DO NOTHING
	`)
	if err != nil {
		return res, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for src.Next() {
		rec := src.Record()
		var payload sql.NullString
		if len(rec.Payload) > 0 {
			payload = sql.NullString{String: string(rec.Payload), Valid: true}
		}

		result, err := stmt.ExecContext(ctx,
			string(stream), rec.ID, ord+1,
			record.FormatTimestamp(rec.OccurredAt), string(rec.Day()),
			rec.EntityRef, rec.Classifier, rec.PayloadType,
			payload, rec.CausedBy, rec.SchemaVersion,
		)
		if err != nil {
			return res, fmt.Errorf("insert record %q: %w", rec.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("insert record %q: %w", rec.ID, err)
		}
		if n == 0 {
			res.Existing++
			continue
		}
		ord++
		res.Inserted++
	}
	if err := src.Err(); err != nil {
		return res, fmt.Errorf("read source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit export: %w", err)
	}
	return res, nil
}

// Records reads back the exported records of stream in export order.
func (d *DB) Records(ctx context.Context, stream record.Stream) ([]record.Record, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, occurred_at, entity_ref, classifier, payload_type,
		       payload, caused_by, schema_version
		FROM records
		WHERE stream = ?
		ORDER BY ord ASC
	`, string(stream))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var recs []record.Record
	for rows.Next() {
		var (
			rec        record.Record
			occurredAt string
			payload    sql.NullString
		)
		if err := rows.Scan(&rec.ID, &occurredAt, &rec.EntityRef, &rec.Classifier,
			&rec.PayloadType, &payload, &rec.CausedBy, &rec.SchemaVersion); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.OccurredAt, err = record.ParseTimestamp(occurredAt)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", rec.ID, err)
		}
		if payload.Valid {
			rec.Payload = []byte(payload.String)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Count returns the number of exported records for stream.
func (d *DB) Count(ctx context.Context, stream record.Stream) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE stream = ?`, string(stream),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
