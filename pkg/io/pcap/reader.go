// Package pcap reads packet captures into network flow events.
package pcap

import (
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/hed1ad/netguard/pkg/events"
	"github.com/hed1ad/netguard/pkg/io/flow"
)

// Reader reads packets from PCAP files and aggregates them into flows.
type Reader struct {
	handle     *pcap.Handle
	aggregator *flow.Aggregator
}

// NewFileReader creates a reader for PCAP files.
func NewFileReader(filename string, opts ...flow.AggregatorOption) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, err
	}

	return &Reader{
		handle:     handle,
		aggregator: flow.NewAggregator(opts...),
	}, nil
}

// SetBPFFilter restricts the packets read, e.g. "tcp or udp".
func (r *Reader) SetBPFFilter(expr string) error {
	if r.handle == nil {
		return errors.New("reader not initialized")
	}
	return r.handle.SetBPFFilter(expr)
}

// ReadEvents reads the whole capture and returns one event per flow.
func (r *Reader) ReadEvents() (events.Batch, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range packetSource.Packets() {
		r.aggregator.Add(packet)
	}

	batch := r.aggregator.Events()
	r.aggregator.Reset()
	return batch, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
		r.handle = nil
	}
	return nil
}
