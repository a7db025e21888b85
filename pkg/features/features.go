// Package features derives the numeric feature matrix from network events.
package features

import (
	"time"

	"github.com/hed1ad/netguard/pkg/events"
)

// Feature column indexes.
const (
	BytesSent = iota
	BytesReceived
	PacketsSent
	PacketsReceived
	BytesRatio
	PacketsRatio
	HourOfDay
	DayOfWeek
	PortEntropy

	Count
)

// Defaults used when a batch lacks the corresponding column.
const (
	DefaultHour        = 12
	DefaultDayOfWeek   = 0
	DefaultPortEntropy = 1
)

var names = []string{
	"bytes_sent",
	"bytes_received",
	"packets_sent",
	"packets_received",
	"bytes_ratio",
	"packets_ratio",
	"hour_of_day",
	"day_of_week",
	"port_entropy",
}

// Names returns the ordered feature names.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Extractor converts a batch of events to feature vectors.
type Extractor struct{}

// NewExtractor creates a new event feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// FeatureNames returns the names of extracted features.
func (e *Extractor) FeatureNames() []string {
	return Names()
}

// Extract converts a batch to an N x Count matrix in FeatureNames order.
// Features: [bytes_sent, bytes_received, packets_sent, packets_received,
// bytes_ratio, packets_ratio, hour_of_day, day_of_week, port_entropy]
//
// port_entropy is the number of distinct destination ports contacted by the
// row's source IP within the batch. It is a count, not an entropy.
func (e *Extractor) Extract(batch events.Batch) ([][]float64, error) {
	ports := portCounts(batch)
	hasPorts := batch.HasDestinationPort()

	data := make([][]float64, len(batch))
	for i, ev := range batch {
		row := make([]float64, Count)

		row[BytesSent] = float64(ev.BytesSent)
		row[BytesReceived] = float64(ev.BytesReceived)
		row[PacketsSent] = float64(ev.PacketsSent)
		row[PacketsReceived] = float64(ev.PacketsReceived)

		// +1 keeps the ratio defined when nothing came back.
		row[BytesRatio] = row[BytesSent] / (row[BytesReceived] + 1)
		row[PacketsRatio] = row[PacketsSent] / (row[PacketsReceived] + 1)

		row[HourOfDay] = DefaultHour
		row[DayOfWeek] = DefaultDayOfWeek
		if ev.HasTimestamp() {
			// Wall clock in the timestamp's own offset.
			row[HourOfDay] = float64(ev.Timestamp.Hour())
			row[DayOfWeek] = float64(mondayWeekday(ev.Timestamp))
		}

		row[PortEntropy] = DefaultPortEntropy
		if hasPorts && ev.SourceIP != "" {
			row[PortEntropy] = float64(ports[ev.SourceIP])
		}

		data[i] = row
	}

	return data, nil
}

// portCounts returns the number of distinct destination ports per source IP.
// Rows without a port do not contribute, so an IP seen only without ports
// maps to zero.
func portCounts(batch events.Batch) map[string]int {
	seen := make(map[string]map[int]struct{})
	for _, ev := range batch {
		if ev.SourceIP == "" {
			continue
		}
		set, ok := seen[ev.SourceIP]
		if !ok {
			set = make(map[int]struct{})
			seen[ev.SourceIP] = set
		}
		if ev.DestinationPort != nil {
			set[*ev.DestinationPort] = struct{}{}
		}
	}

	counts := make(map[string]int, len(seen))
	for ip, set := range seen {
		counts[ip] = len(set)
	}
	return counts
}

// mondayWeekday returns the day of week with Monday as 0 and Sunday as 6.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
