// Package io provides input/output interfaces for network event ingestion.
package io

import "github.com/hed1ad/netguard/pkg/events"

// EventReader reads a batch of network events from a source.
type EventReader interface {
	// ReadEvents returns the complete batch.
	ReadEvents() (events.Batch, error)

	// Close releases resources.
	Close() error
}

// FeatureExtractor converts a batch of events to feature vectors.
type FeatureExtractor interface {
	// Extract converts a batch to a feature matrix, one row per event.
	Extract(batch events.Batch) ([][]float64, error)

	// FeatureNames returns the names of extracted features.
	FeatureNames() []string
}

// EventWriter writes batches of network events.
type EventWriter interface {
	// WriteEvents outputs a batch.
	WriteEvents(batch events.Batch) error

	// Close flushes and releases resources.
	Close() error
}
