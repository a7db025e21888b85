// Package csv provides CSV reading and writing of network event batches.
package csv

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hed1ad/netguard/pkg/events"
)

// Column names, matching the event record fields.
const (
	ColTimestamp       = "timestamp"
	ColSourceIP        = "source_ip"
	ColDestinationIP   = "destination_ip"
	ColSourcePort      = "source_port"
	ColDestinationPort = "destination_port"
	ColProtocol        = "protocol"
	ColBytesSent       = "bytes_sent"
	ColBytesReceived   = "bytes_received"
	ColPacketsSent     = "packets_sent"
	ColPacketsReceived = "packets_received"
	ColEventType       = "event_type"
	ColSeverity        = "severity"
	ColDeviceID        = "device_id"
	ColLocation        = "location"

	// ColLabel holds the ground-truth anomaly flag in generated data.
	ColLabel = "is_anomaly"
)

// Columns is the canonical column order.
var Columns = []string{
	ColTimestamp,
	ColSourceIP,
	ColDestinationIP,
	ColSourcePort,
	ColDestinationPort,
	ColProtocol,
	ColBytesSent,
	ColBytesReceived,
	ColPacketsSent,
	ColPacketsReceived,
	ColEventType,
	ColSeverity,
	ColDeviceID,
	ColLocation,
}

// Reader reads network events from CSV files with a header row.
type Reader struct {
	closer  io.Closer
	reader  *csv.Reader
	headers []string
	index   map[string]int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithComma sets the field delimiter.
func WithComma(r rune) Option {
	return func(rd *Reader) {
		rd.reader.Comma = r
	}
}

// NewReader opens filename for reading.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := NewReaderFrom(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReaderFrom reads CSV from src. The header row is consumed immediately.
func NewReaderFrom(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader: csv.NewReader(src),
	}
	r.reader.FieldsPerRecord = -1

	for _, opt := range opts {
		opt(r)
	}

	headers, err := r.reader.Read()
	if err == io.EOF {
		return nil, errors.New("csv: missing header row")
	}
	if err != nil {
		return nil, err
	}

	r.headers = headers
	r.index = make(map[string]int, len(headers))
	for i, h := range headers {
		r.index[strings.ToLower(strings.TrimSpace(h))] = i
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// ReadEvents returns all rows as events. Missing columns, empty cells and
// unparsable values fall back to zero values.
func (r *Reader) ReadEvents() (events.Batch, error) {
	batch, _, err := r.read()
	return batch, err
}

// ReadLabeled returns all rows as events plus the is_anomaly column, which is
// false where absent.
func (r *Reader) ReadLabeled() (events.Batch, []bool, error) {
	return r.read()
}

func (r *Reader) read() (events.Batch, []bool, error) {
	var (
		batch  events.Batch
		labels []bool
	)

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if isBlank(record) {
			continue
		}

		batch = append(batch, r.parseRow(record))
		label, _ := strconv.ParseBool(r.field(record, ColLabel))
		labels = append(labels, label)
	}

	return batch, labels, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) field(record []string, col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseRow converts a record to an event.
func (r *Reader) parseRow(record []string) events.Event {
	e := events.Event{
		Timestamp:       parseTime(r.field(record, ColTimestamp)),
		SourceIP:        r.field(record, ColSourceIP),
		DestinationIP:   r.field(record, ColDestinationIP),
		SourcePort:      int(parseInt(r.field(record, ColSourcePort))),
		Protocol:        r.field(record, ColProtocol),
		BytesSent:       parseInt(r.field(record, ColBytesSent)),
		BytesReceived:   parseInt(r.field(record, ColBytesReceived)),
		PacketsSent:     parseInt(r.field(record, ColPacketsSent)),
		PacketsReceived: parseInt(r.field(record, ColPacketsReceived)),
		EventType:       r.field(record, ColEventType),
		Severity:        r.field(record, ColSeverity),
		DeviceID:        r.field(record, ColDeviceID),
		Location:        r.field(record, ColLocation),
	}

	if v := r.field(record, ColDestinationPort); v != "" {
		if p, ok := parseNumber(v); ok {
			e.DestinationPort = events.Port(int(p))
		}
	}

	return e
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseInt parses integer or float text; anything else is 0.
func parseInt(v string) int64 {
	n, _ := parseNumber(v)
	return n
}

func parseNumber(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, true
	}
	// Columns written by dataframe tools come out as "1500.0".
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
		return int64(f), true
	}
	return 0, false
}

// parseTime returns the zero time when v is empty or unparsable.
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := events.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}
