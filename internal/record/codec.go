package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the on-disk timestamp format. Always UTC with a Z suffix.
const TimestampLayout = time.RFC3339Nano

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an RFC 3339 timestamp and normalises it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// wireRecord is the decoded form of one partition line. Both classifier keys
// are declared so one struct serves both streams.
type wireRecord struct {
	ID            string          `json:"id"`
	OccurredAt    string          `json:"occurred_at"`
	EntityRef     string          `json:"entity_ref"`
	Source        string          `json:"source"`
	EmissionType  string          `json:"emission_type"`
	PayloadType   string          `json:"payload_type"`
	Payload       json.RawMessage `json:"payload"`
	CausedBy      string          `json:"caused_by"`
	SchemaVersion string          `json:"schema_version"`
}

// Normalize returns r with its timestamp in UTC, its payload in canonical
// form and a schema version set. Encoding a normalised record and decoding
// the line yields an equal record.
func Normalize(r Record) (Record, error) {
	r.OccurredAt = r.OccurredAt.UTC()
	if r.SchemaVersion == "" {
		r.SchemaVersion = SchemaVersion
	}
	if len(r.Payload) == 0 {
		r.Payload = nil
		return r, nil
	}
	payload, err := CanonicalJSON(r.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("record %q payload: %w", r.ID, err)
	}
	if string(payload) == "null" {
		payload = nil
	}
	r.Payload = payload
	return r, nil
}

// EncodeLine renders r as one newline-terminated partition line of the
// given stream. Keys are sorted; the same record always yields the same bytes.
func EncodeLine(stream Stream, r Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r, err := Normalize(r)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"id":             r.ID,
		"occurred_at":    FormatTimestamp(r.OccurredAt),
		"payload_type":   r.PayloadType,
		"schema_version": r.SchemaVersion,
	}
	fields[stream.ClassifierField()] = r.Classifier
	if r.EntityRef != "" {
		fields["entity_ref"] = r.EntityRef
	}
	if stream == Emissions && r.CausedBy != "" {
		fields["caused_by"] = r.CausedBy
	}
	if r.Payload != nil {
		dec := json.NewDecoder(bytes.NewReader(r.Payload))
		dec.UseNumber()
		var payload any
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("record %q payload: %w", r.ID, err)
		}
		fields["payload"] = payload
	} else {
		fields["payload"] = nil
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, fields); err != nil {
		return nil, fmt.Errorf("encode record %q: %w", r.ID, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// DecodeLine parses one partition line (with or without its trailing
// newline). A line that is not a complete record is an error.
func DecodeLine(stream Stream, line []byte) (Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Record{}, fmt.Errorf("empty line")
	}
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Record{}, fmt.Errorf("decode line: %w", err)
	}
	if w.ID == "" {
		return Record{}, fmt.Errorf("decode line: missing id")
	}
	occurredAt, err := ParseTimestamp(w.OccurredAt)
	if err != nil {
		return Record{}, fmt.Errorf("decode line %q: %w", w.ID, err)
	}

	r := Record{
		ID:            w.ID,
		OccurredAt:    occurredAt,
		EntityRef:     w.EntityRef,
		Classifier:    w.Source,
		PayloadType:   w.PayloadType,
		CausedBy:      w.CausedBy,
		SchemaVersion: w.SchemaVersion,
	}
	if stream == Emissions {
		r.Classifier = w.EmissionType
	} else {
		r.CausedBy = ""
	}
	if len(w.Payload) > 0 && string(w.Payload) != "null" {
		r.Payload = w.Payload
	}
	return r, nil
}

// ReadID extracts only the id of a line, for callers that need to know
// whether a record carries one before decoding it.
func ReadID(line []byte) (string, bool) {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &head); err != nil || head.ID == "" {
		return "", false
	}
	return head.ID, true
}
