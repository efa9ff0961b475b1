// Package event defines the append-only event model and its stores.
//
// Every state change in the system is an Event on a durable log. State is
// never mutated directly; it is always a fold over this log.
package event

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every event written by this build.
const SchemaVersion = "1.0"

// Event is a single immutable fact on the log.
//
// Payload is kept as a generic map: the fold and the analyzers pick out
// the keys they understand and ignore the rest, so old binaries can
// replay logs written by newer ones.
type Event struct {
	EventID       string         `json:"event_id"`
	Type          string         `json:"type"`
	Timestamp     string         `json:"timestamp"`
	SchemaVersion string         `json:"schema_version"`
	Payload       map[string]any `json:"payload"`
}

// New builds a normalized event of the given type at the given time.
func New(eventType string, at time.Time, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		EventID:       NewID(),
		Type:          eventType,
		Timestamp:     at.UTC().Format(time.RFC3339),
		SchemaVersion: SchemaVersion,
		Payload:       payload,
	}
}

// NewID returns an event identifier of the form evt_<12 hex chars>.
func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid only fails when the platform entropy source does;
		// fall back to crypto/rand directly.
		var b [6]byte
		_, _ = rand.Read(b[:])
		return "evt_" + hex.EncodeToString(b[:])
	}
	return "evt_" + hex.EncodeToString(id[:6])
}

// Normalize fills in missing identity fields so that hand-built or
// externally-sourced events round-trip through the store cleanly.
func (e *Event) Normalize(now time.Time) {
	if e.EventID == "" {
		e.EventID = NewID()
	}
	if e.Timestamp == "" {
		e.Timestamp = now.UTC().Format(time.RFC3339)
	}
	if e.SchemaVersion == "" {
		e.SchemaVersion = SchemaVersion
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
}

// Time parses the event timestamp. Both RFC 3339 and the bare
// "2006-01-02T15:04:05" form found in older logs are accepted; a zero
// time and an error are returned for anything else.
func (e Event) Time() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", e.Timestamp); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("event %s: unparseable timestamp %q", e.EventID, e.Timestamp)
}

// PayloadString returns payload[key] when it is a string, else "".
func (e Event) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// PayloadFloat returns payload[key] as a float64 when it is numeric.
func (e Event) PayloadFloat(key string) (float64, bool) {
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Marshal renders the event as a single JSON line.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
