package testutil

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/logstore/internal/record"
)

// At returns 2026-02-<day>T<hour>:<minute>:00Z. Fixtures use it so windows
// and partitions line up with the golden files.
func At(day, hour, minute int) time.Time {
	return time.Date(2026, 2, day, hour, minute, 0, 0, time.UTC)
}

// RecordBuilder assembles fixture records with sensible defaults.
type RecordBuilder struct {
	rec record.Record
}

// Signal starts a signal fixture: entity "ent-1", source "test.source".
func Signal(id string, at time.Time) *RecordBuilder {
	return &RecordBuilder{rec: record.Record{
		ID:          id,
		OccurredAt:  at,
		EntityRef:   "ent-1",
		Classifier:  "test.source",
		PayloadType: "TestSignal",
		Payload:     json.RawMessage(`{}`),
	}}
}

// Emission starts an emission fixture: entity "ent-1", emission type
// "TestEmission".
func Emission(id string, at time.Time) *RecordBuilder {
	return &RecordBuilder{rec: record.Record{
		ID:          id,
		OccurredAt:  at,
		EntityRef:   "ent-1",
		Classifier:  "TestEmission",
		PayloadType: "TestEmission",
		Payload:     json.RawMessage(`{}`),
	}}
}

// Entity sets the entity reference.
func (b *RecordBuilder) Entity(ref string) *RecordBuilder {
	b.rec.EntityRef = ref
	return b
}

// Classifier sets the source (signals) or emission type (emissions).
func (b *RecordBuilder) Classifier(c string) *RecordBuilder {
	b.rec.Classifier = c
	return b
}

// Payload sets the payload from a JSON literal.
func (b *RecordBuilder) Payload(raw string) *RecordBuilder {
	b.rec.Payload = json.RawMessage(raw)
	return b
}

// CausedBy links an emission to the record that triggered it.
func (b *RecordBuilder) CausedBy(id string) *RecordBuilder {
	b.rec.CausedBy = id
	return b
}

// Build returns the record.
func (b *RecordBuilder) Build() record.Record {
	return b.rec
}

// SequentialIDs generates "<prefix>-1", "<prefix>-2", ... in call order.
//
// The same prefix always yields the same sequence, so fixtures written
// through write --generate-ids produce byte-identical partitions.
//
// Thread-safety: Generate is safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix means "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate implements record.IDGenerator.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
