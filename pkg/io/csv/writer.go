package csv

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hed1ad/netguard/pkg/events"
)

// Writer writes network events as CSV with the canonical header.
type Writer struct {
	closer        io.Closer
	writer        *csv.Writer
	withLabels    bool
	headerWritten bool
}

// WriterOption configures a CSV writer.
type WriterOption func(*Writer)

// WithLabels appends the is_anomaly column.
func WithLabels() WriterOption {
	return func(w *Writer) {
		w.withLabels = true
	}
}

// NewWriter creates filename, truncating it if it exists.
func NewWriter(filename string, opts ...WriterOption) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	w := NewWriterTo(file, opts...)
	w.closer = file
	return w, nil
}

// NewWriterTo writes CSV to dst.
func NewWriterTo(dst io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{writer: csv.NewWriter(dst)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteEvents writes batch without labels.
func (w *Writer) WriteEvents(batch events.Batch) error {
	return w.WriteLabeled(batch, nil)
}

// WriteLabeled writes batch with one label per event. labels may be nil when
// the writer was created without WithLabels.
func (w *Writer) WriteLabeled(batch events.Batch, labels []bool) error {
	if w.withLabels && len(labels) != len(batch) {
		return errors.New("csv: label count does not match batch size")
	}

	if !w.headerWritten {
		header := append([]string{}, Columns...)
		if w.withLabels {
			header = append(header, ColLabel)
		}
		if err := w.writer.Write(header); err != nil {
			return err
		}
		w.headerWritten = true
	}

	for i, e := range batch {
		record := formatRow(e)
		if w.withLabels {
			record = append(record, strconv.FormatBool(labels[i]))
		}
		if err := w.writer.Write(record); err != nil {
			return err
		}
	}

	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and releases resources.
func (w *Writer) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

func formatRow(e events.Event) []string {
	ts := ""
	if e.HasTimestamp() {
		ts = e.Timestamp.Format(time.RFC3339)
	}
	dport := ""
	if e.DestinationPort != nil {
		dport = strconv.Itoa(*e.DestinationPort)
	}

	return []string{
		ts,
		e.SourceIP,
		e.DestinationIP,
		strconv.Itoa(e.SourcePort),
		dport,
		e.Protocol,
		strconv.FormatInt(e.BytesSent, 10),
		strconv.FormatInt(e.BytesReceived, 10),
		strconv.FormatInt(e.PacketsSent, 10),
		strconv.FormatInt(e.PacketsReceived, 10),
		e.EventType,
		e.Severity,
		e.DeviceID,
		e.Location,
	}
}
