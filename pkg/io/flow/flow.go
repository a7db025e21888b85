// Package flow aggregates decoded network packets into flow events.
package flow

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/hed1ad/netguard/pkg/events"
)

// key identifies a flow in the direction of its first packet.
type key struct {
	srcIP, dstIP     string
	srcPort, dstPort int
	proto            string
}

func (k key) reverse() key {
	return key{
		srcIP:   k.dstIP,
		dstIP:   k.srcIP,
		srcPort: k.dstPort,
		dstPort: k.srcPort,
		proto:   k.proto,
	}
}

type flowState struct {
	first           time.Time
	bytesSent       int64
	bytesReceived   int64
	packetsSent     int64
	packetsReceived int64
	hasPorts        bool
}

// Aggregator groups packets into bidirectional flows. Packets travelling in
// the direction of a flow's first packet count as sent, the reverse as
// received.
type Aggregator struct {
	deviceID string
	location string

	flows map[key]*flowState
	order []key
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithDevice tags produced events with a device ID and location.
func WithDevice(deviceID, location string) AggregatorOption {
	return func(a *Aggregator) {
		a.deviceID = deviceID
		a.location = location
	}
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{flows: make(map[key]*flowState)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add accounts a packet to its flow. Packets without an IP layer are ignored.
// It reports whether the packet was used.
func (a *Aggregator) Add(packet gopacket.Packet) bool {
	k, ok := packetKey(packet)
	if !ok {
		return false
	}

	size := int64(len(packet.Data()))
	if md := packet.Metadata(); md != nil && md.Length > 0 {
		size = int64(md.Length)
	}

	if st, ok := a.flows[k]; ok {
		st.bytesSent += size
		st.packetsSent++
		return true
	}
	if st, ok := a.flows[k.reverse()]; ok {
		st.bytesReceived += size
		st.packetsReceived++
		return true
	}

	st := &flowState{
		bytesSent:   size,
		packetsSent: 1,
		hasPorts:    k.proto == "TCP" || k.proto == "UDP",
	}
	if md := packet.Metadata(); md != nil {
		st.first = md.Timestamp
	}
	a.flows[k] = st
	a.order = append(a.order, k)
	return true
}

// Len returns the number of flows seen.
func (a *Aggregator) Len() int {
	return len(a.order)
}

// Events returns one event per flow, in order of first appearance.
func (a *Aggregator) Events() events.Batch {
	batch := make(events.Batch, 0, len(a.order))
	for _, k := range a.order {
		st := a.flows[k]
		e := events.Event{
			Timestamp:       st.first,
			SourceIP:        k.srcIP,
			DestinationIP:   k.dstIP,
			SourcePort:      k.srcPort,
			Protocol:        k.proto,
			BytesSent:       st.bytesSent,
			BytesReceived:   st.bytesReceived,
			PacketsSent:     st.packetsSent,
			PacketsReceived: st.packetsReceived,
			EventType:       "connection",
			DeviceID:        a.deviceID,
			Location:        a.location,
		}
		if st.hasPorts {
			e.DestinationPort = events.Port(k.dstPort)
		}
		batch = append(batch, e)
	}
	return batch
}

// Reset drops all flows.
func (a *Aggregator) Reset() {
	a.flows = make(map[key]*flowState)
	a.order = nil
}

func packetKey(packet gopacket.Packet) (key, bool) {
	var k key

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		k.srcIP, k.dstIP = ipString(ip.SrcIP), ipString(ip.DstIP)
	case *layers.IPv6:
		k.srcIP, k.dstIP = ipString(ip.SrcIP), ipString(ip.DstIP)
	default:
		return k, false
	}

	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		k.proto = "TCP"
		k.srcPort = int(tcp.SrcPort)
		k.dstPort = int(tcp.DstPort)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		k.proto = "UDP"
		k.srcPort = int(udp.SrcPort)
		k.dstPort = int(udp.DstPort)
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil || packet.Layer(layers.LayerTypeICMPv6) != nil {
		k.proto = "ICMP"
	} else {
		k.proto = "IP"
	}

	return k, true
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
