package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hed1ad/netguard/pkg/events"
	netio "github.com/hed1ad/netguard/pkg/io"
)

// ReaderOptions are passed to every ReaderFunc. Readers ignore options that
// do not apply to their format.
type ReaderOptions struct {
	// Filter is a BPF expression for packet captures.
	Filter string
	// DeviceID and Location tag events derived from packets.
	DeviceID string
	Location string
}

// ReaderFunc opens an event source.
type ReaderFunc func(path string, opts ReaderOptions) (netio.EventReader, error)

// readInput reads the whole file at path with the reader registered for its
// extension.
func (a *app) readInput(path string, opts ReaderOptions) (events.Batch, error) {
	ext := strings.ToLower(filepath.Ext(path))
	open, ok := a.readers[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported input format %q", ext)
	}

	r, err := open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	batch, err := r.ReadEvents()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return batch, nil
}

// chunks splits batch into consecutive slices of at most size events.
func chunks(batch events.Batch, size int) []events.Batch {
	if size <= 0 || len(batch) <= size {
		return []events.Batch{batch}
	}

	out := make([]events.Batch, 0, (len(batch)+size-1)/size)
	for start := 0; start < len(batch); start += size {
		end := start + size
		if end > len(batch) {
			end = len(batch)
		}
		out = append(out, batch[start:end])
	}
	return out
}
