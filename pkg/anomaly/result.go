package anomaly

import (
	"encoding/json"

	"github.com/hed1ad/netguard/pkg/events"
)

// Detection is an input event annotated with its anomaly verdict. In JSON
// Severity replaces the event's own severity field.
type Detection struct {
	events.Event
	IsAnomaly    bool     `json:"is_anomaly"`
	AnomalyScore float64  `json:"anomaly_score"`
	Confidence   float64  `json:"confidence"`
	Severity     Severity `json:"severity,omitempty"`
}

type detectionJSON struct {
	events.WireEvent
	IsAnomaly    bool     `json:"is_anomaly"`
	AnomalyScore float64  `json:"anomaly_score"`
	Confidence   float64  `json:"confidence"`
	Severity     Severity `json:"severity,omitempty"`
}

// MarshalJSON implements json.Marshaler. The promoted events.Event method
// would drop the verdict fields.
func (d Detection) MarshalJSON() ([]byte, error) {
	return json.Marshal(detectionJSON{
		WireEvent:    d.Event.Wire(),
		IsAnomaly:    d.IsAnomaly,
		AnomalyScore: d.AnomalyScore,
		Confidence:   d.Confidence,
		Severity:     d.Severity,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var w detectionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ev, err := w.WireEvent.Event()
	if err != nil {
		return err
	}
	*d = Detection{
		Event:        ev,
		IsAnomaly:    w.IsAnomaly,
		AnomalyScore: w.AnomalyScore,
		Confidence:   w.Confidence,
		Severity:     w.Severity,
	}
	return nil
}

// Result holds one Detection per input event, in input order.
type Result struct {
	Rows []Detection `json:"results"`
	// Degraded is set when no model was available and rows are unannotated.
	Degraded bool `json:"degraded,omitempty"`
}

// PassThrough wraps batch unannotated, flagged as degraded. Each row keeps
// the event's own severity.
func PassThrough(batch events.Batch) *Result {
	rows := make([]Detection, len(batch))
	for i, ev := range batch {
		rows[i] = Detection{Event: ev, Severity: Severity(ev.Severity)}
	}
	return &Result{Rows: rows, Degraded: true}
}

// Total returns the number of rows.
func (r *Result) Total() int {
	return len(r.Rows)
}

// AnomalyCount returns the number of rows flagged anomalous.
func (r *Result) AnomalyCount() int {
	n := 0
	for _, d := range r.Rows {
		if d.IsAnomaly {
			n++
		}
	}
	return n
}

// AnomalyRate returns AnomalyCount / Total, or 0 for an empty result.
func (r *Result) AnomalyRate() float64 {
	if len(r.Rows) == 0 {
		return 0
	}
	return float64(r.AnomalyCount()) / float64(len(r.Rows))
}

// Anomalies returns the rows flagged anomalous.
func (r *Result) Anomalies() []Detection {
	var out []Detection
	for _, d := range r.Rows {
		if d.IsAnomaly {
			out = append(out, d)
		}
	}
	return out
}

// Events returns the underlying events in order.
func (r *Result) Events() events.Batch {
	out := make(events.Batch, len(r.Rows))
	for i, d := range r.Rows {
		out[i] = d.Event
	}
	return out
}
