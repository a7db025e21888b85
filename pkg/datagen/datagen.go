// Package datagen generates synthetic network events for training and demos.
package datagen

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/hed1ad/netguard/pkg/events"
)

var (
	ipRanges   = []string{"10.1.%d.%d", "192.168.%d.%d", "172.16.%d.%d"}
	protocols  = []string{"TCP", "UDP", "ICMP", "HTTP", "HTTPS", "DNS", "SSH"}
	eventTypes = []string{"connection", "auth", "data_transfer", "api_call", "file_access"}
	ports      = []int{80, 443, 22, 3306, 5432, 8080}
	locations  = []string{"store-001", "store-002", "hq-datacenter", "cloud-az-east"}
)

// Window is the time span generated events are spread over.
const Window = 30 * 24 * time.Hour

// Generator produces synthetic events from an explicit random source.
type Generator struct {
	rng *rand.Rand
}

// New creates a generator. Pass rand.New(rand.NewSource(seed)) for
// reproducible output.
func New(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// NewSeeded creates a generator with its own seeded source.
func NewSeeded(seed int64) *Generator {
	return New(rand.New(rand.NewSource(seed)))
}

// between returns a uniform integer in [lo, hi].
func (g *Generator) between(lo, hi int64) int64 {
	return lo + g.rng.Int63n(hi-lo+1)
}

func (g *Generator) pick(values []string) string {
	return values[g.rng.Intn(len(values))]
}

func (g *Generator) ip() string {
	return fmt.Sprintf(ipRanges[g.rng.Intn(len(ipRanges))], g.between(1, 254), g.between(1, 254))
}

// NetworkEvents returns n events spread over Window after start, with
// roughly anomalyRate of them shaped like exfiltration: large uploads with
// little response. The second return value flags those rows.
func (g *Generator) NetworkEvents(n int, anomalyRate float64, start time.Time) (events.Batch, []bool) {
	batch := make(events.Batch, n)
	labels := make([]bool, n)

	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(g.rng.Int63n(int64(Window/time.Second))) * time.Second)
		isAnomaly := g.rng.Float64() < anomalyRate

		var bytesSent, bytesReceived, packetsSent int64
		var severity string
		if isAnomaly {
			bytesSent = g.between(1_000_000, 10_000_000)
			bytesReceived = g.between(100, 1000)
			packetsSent = g.between(500, 2000)
			severity = g.pick([]string{"high", "critical"})
		} else {
			bytesSent = g.between(1000, 50000)
			bytesReceived = g.between(1000, 50000)
			packetsSent = g.between(10, 100)
			severity = g.pick([]string{"low", "medium"})
		}

		packetsReceived := packetsSent + g.between(-10, 10)
		if packetsReceived < 0 {
			packetsReceived = 0
		}

		batch[i] = events.Event{
			Timestamp:       ts,
			SourceIP:        g.ip(),
			DestinationIP:   g.ip(),
			SourcePort:      int(g.between(1024, 65535)),
			DestinationPort: events.Port(ports[g.rng.Intn(len(ports))]),
			Protocol:        g.pick(protocols),
			BytesSent:       bytesSent,
			BytesReceived:   bytesReceived,
			PacketsSent:     packetsSent,
			PacketsReceived: packetsReceived,
			EventType:       g.pick(eventTypes),
			Severity:        severity,
			DeviceID:        fmt.Sprintf("device-%03d", g.between(1, 100)),
			Location:        g.pick(locations),
		}
		labels[i] = isAnomaly
	}

	return batch, labels
}

// Hourly returns n events one hour apart from start carrying only traffic
// counters in normal ranges.
func (g *Generator) Hourly(n int, start time.Time) events.Batch {
	batch := make(events.Batch, n)
	for i := range batch {
		batch[i] = events.Event{
			Timestamp:       start.Add(time.Duration(i) * time.Hour),
			BytesSent:       g.between(1000, 49999),
			BytesReceived:   g.between(1000, 49999),
			PacketsSent:     g.between(10, 99),
			PacketsReceived: g.between(10, 99),
		}
	}
	return batch
}
