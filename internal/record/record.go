package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stream names one of the independent record namespaces.
type Stream string

const (
	// Signals holds observed inputs. Classified by source.
	Signals Stream = "signals"

	// Emissions holds derived outputs. Classified by emission type.
	Emissions Stream = "emissions"
)

// Streams lists every stream in a fixed order.
var Streams = []Stream{Signals, Emissions}

// ParseStream validates a stream name.
func ParseStream(name string) (Stream, error) {
	switch Stream(name) {
	case Signals, Emissions:
		return Stream(name), nil
	default:
		return "", fmt.Errorf("unknown stream %q: must be %q or %q", name, Signals, Emissions)
	}
}

// ClassifierField is the JSON key carrying Record.Classifier on disk.
func (s Stream) ClassifierField() string {
	if s == Emissions {
		return "emission_type"
	}
	return "source"
}

// String implements fmt.Stringer.
func (s Stream) String() string { return string(s) }

// Record is one immutable envelope in a stream.
//
// Classifier holds the stream-specific classification: the signal source
// for Signals and the emission type for Emissions.
type Record struct {
	ID            string          `json:"id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	EntityRef     string          `json:"entity_ref,omitempty"`
	Classifier    string          `json:"classifier"`
	PayloadType   string          `json:"payload_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CausedBy      string          `json:"caused_by,omitempty"` // emissions only
	SchemaVersion string          `json:"schema_version,omitempty"`
}

// Validate checks the fields the store depends on. Envelope schema rules
// beyond these belong to the producer.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required for stable record identity")
	}
	if r.OccurredAt.IsZero() {
		return fmt.Errorf("record %q: occurred_at is required", r.ID)
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return fmt.Errorf("record %q: payload is not valid JSON", r.ID)
	}
	return nil
}

// Day returns the calendar day partition the record belongs to.
func (r Record) Day() Day {
	return DayOf(r.OccurredAt)
}

// Day is a UTC calendar day in YYYY-MM-DD form.
type Day string

// DayLayout is the time layout of a Day.
const DayLayout = "2006-01-02"

// DayOf returns the UTC calendar day containing t.
func DayOf(t time.Time) Day {
	return Day(t.UTC().Format(DayLayout))
}

// ParseDay validates a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// Start returns midnight UTC at the beginning of the day.
func (d Day) Start() time.Time {
	t, err := time.Parse(DayLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	return DayOf(d.Start().AddDate(0, 0, 1))
}

// String implements fmt.Stringer.
func (d Day) String() string { return string(d) }

// DaysBetween enumerates the days overlapping the half-open window
// [start, end) in ascending order. An empty window yields no days.
func DaysBetween(start, end time.Time) []Day {
	if !end.After(start) {
		return nil
	}
	last := DayOf(end.Add(-time.Nanosecond))
	var days []Day
	for d := DayOf(start); d <= last; d = d.Next() {
		days = append(days, d)
	}
	return days
}
