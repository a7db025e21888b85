// Package events defines the network event records consumed by the detector.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one observed network flow or event.
//
// Numeric counters that are absent in the source are zero. DestinationPort is
// a pointer because its presence in a batch changes how features are derived.
// In JSON the timestamp accepts any of TimeLayouts and is omitted when zero.
type Event struct {
	Timestamp       time.Time `json:"timestamp"`
	SourceIP        string    `json:"source_ip,omitempty"`
	DestinationIP   string    `json:"destination_ip,omitempty"`
	SourcePort      int       `json:"source_port,omitempty"`
	DestinationPort *int      `json:"destination_port,omitempty"`
	Protocol        string    `json:"protocol,omitempty"`
	BytesSent       int64     `json:"bytes_sent"`
	BytesReceived   int64     `json:"bytes_received"`
	PacketsSent     int64     `json:"packets_sent"`
	PacketsReceived int64     `json:"packets_received"`
	EventType       string    `json:"event_type,omitempty"`
	Severity        string    `json:"severity,omitempty"`
	DeviceID        string    `json:"device_id,omitempty"`
	Location        string    `json:"location,omitempty"`
}

// TimeLayouts are the accepted timestamp formats, tried in order. Layouts
// without a zone are read as UTC.
var TimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// ParseTime parses v with the first matching layout of TimeLayouts. The
// parsed offset is kept.
func ParseTime(v string) (time.Time, error) {
	for _, layout := range TimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("events: unrecognized timestamp %q", v)
}

// FormatTime renders t as RFC 3339, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// Fields is Event without its JSON methods, for embedding in wire types.
type Fields Event

// WireEvent is the JSON form of an Event. Its Timestamp shadows the embedded
// time.Time field.
type WireEvent struct {
	Fields
	Timestamp string `json:"timestamp,omitempty"`
}

// Wire converts e to its JSON form.
func (e Event) Wire() WireEvent {
	return WireEvent{Fields: Fields(e), Timestamp: FormatTime(e.Timestamp)}
}

// Event converts w back, parsing its timestamp.
func (w WireEvent) Event() (Event, error) {
	e := Event(w.Fields)
	e.Timestamp = time.Time{}
	if w.Timestamp != "" {
		ts, err := ParseTime(w.Timestamp)
		if err != nil {
			return Event{}, err
		}
		e.Timestamp = ts
	}
	return e, nil
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w WireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ev, err := w.Event()
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// HasTimestamp reports whether the event carries a timestamp.
func (e Event) HasTimestamp() bool {
	return !e.Timestamp.IsZero()
}

// Batch is an ordered sequence of events sharing a common schema.
type Batch []Event

// HasDestinationPort reports whether any event in the batch carries a
// destination port, i.e. whether the batch has a destination_port column.
func (b Batch) HasDestinationPort() bool {
	for _, e := range b {
		if e.DestinationPort != nil {
			return true
		}
	}
	return false
}

// HasTimestamp reports whether any event in the batch carries a timestamp.
func (b Batch) HasTimestamp() bool {
	for _, e := range b {
		if e.HasTimestamp() {
			return true
		}
	}
	return false
}

// Port returns a pointer to p, for filling DestinationPort.
func Port(p int) *int {
	return &p
}
