// Package record defines the envelope stored in the log and its on-disk line
// encoding.
//
// This package has no internal dependencies. The store, export and CLI
// packages all import record; record imports nothing internal.
//
// Key constraints:
//   - Records are immutable once appended; nothing here mutates a Record in place
//   - Timestamps are normalised to UTC before encoding
//   - One record encodes to exactly one line, always to the same bytes
//   - JSON keys use snake_case, sorted
package record
