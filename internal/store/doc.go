// Package store provides durable, file-backed storage for signal and
// emission records.
//
// The store implements an append-only log with:
//   - Partitions: one JSON-lines file per stream per UTC calendar day
//   - Duplicate index: in-memory id → partition map making writes idempotent
//   - Replay: lazy, filtered, duplicate-suppressed iteration over a window
//   - Checkpoints: resumable replay cursors persisted by name
//   - Snapshots: named, dated point-in-time artifacts
//
// # Ordering
//
// Replay order is (day ascending, append order within the day). It is never
// re-sorted by occurred_at: appends may be backfilled, and the checkpoint
// boundary scheme relies on a traversal order that does not change after
// the fact.
//
// # Durability
//
// Each record is written as one complete line in a single write call. A
// trailing line without its newline is treated as not yet visible. A
// complete line that does not decode is skipped and reported through
// Iterator.Malformed; it never aborts a replay.
//
// # Concurrency
//
// Writes to one stream are serialised by that stream's index lock, held
// across lookup, append and register for a single record. Different streams
// never contend. Readers take no locks: partitions are only appended to, so
// a reader sees every record appended before it reached that point of the
// file ("append-visible, not snapshot-isolated").
//
// # Layout
//
//	<root>/store/signals/2026-02-05.jsonl
//	<root>/store/emissions/2026-02-05.jsonl
//	<root>/store/checkpoints/<name>.json
//	<root>/store/snapshots/<name>__2026-02-05.json
//	<root>/store/snapshots/<name>__2026-02-05T120000Z.json
package store
