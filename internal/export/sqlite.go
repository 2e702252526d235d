// Package export copies replayed records into a SQLite database for ad hoc
// querying. The partition files stay authoritative; the database is a
// disposable read-out that can be rebuilt from a replay at any time.
package export

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades the schema from version-1 to version.
type migration struct {
	version int
	stmt    string
}

// migrations run in order on databases whose user_version is below theirs.
var migrations = []migration{
	// Entity read-outs: "everything about e1 in February".
	{1, `CREATE INDEX IF NOT EXISTS idx_records_entity ON records(stream, entity_ref, occurred_at)`},
	// Causal lookups from an emission back to the signal that caused it.
	{2, `CREATE INDEX IF NOT EXISTS idx_records_caused_by ON records(caused_by) WHERE caused_by != ''`},
}

// DB is an export database in WAL mode, so readers can query while an
// export is running.
type DB struct {
	db *sql.DB
}

// Open creates or opens the export database at path, then brings its schema
// up to date. Safe to call on an existing database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open export database: %w", err)
	}

	// One writer at a time; a single connection also keeps pragmas in force.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open export database %s: %w", path, err)
	}
	return d, nil
}

func (d *DB) init() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := d.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := d.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return d.migrate()
}

// migrate applies pending migrations, each in its own transaction together
// with the user_version bump.
func (d *DB) migrate() error {
	var current int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set user_version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (d *DB) SchemaVersion() (int, error) {
	var v int
	err := d.db.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Query runs a read-only query against the export. Callers close the rows.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// pragma returns the current value of a pragma. Used by tests.
func (d *DB) pragma(name string) (string, error) {
	var value string
	if err := d.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
