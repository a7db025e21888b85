package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/netguard/pkg/detectors"
	"github.com/hed1ad/netguard/pkg/events"
	"github.com/hed1ad/netguard/pkg/features"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		want    float64
		wantErr bool
	}{
		{name: "defaults", want: DefaultContamination},
		{name: "custom contamination", opts: []Option{WithContamination(0.05)}, want: 0.05},
		{name: "zero contamination", opts: []Option{WithContamination(0)}, wantErr: true},
		{name: "contamination of one", opts: []Option{WithContamination(1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.opts...)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidContamination)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Info().Contamination)
			assert.False(t, m.IsTrained())
			assert.Equal(t, Version, m.Version())
		})
	}
}

func TestTrain(t *testing.T) {
	batch := hourlyBatch(rand.New(rand.NewSource(1)), 100)

	m, err := New(WithContamination(0.1))
	require.NoError(t, err)

	metrics, err := m.Train(context.Background(), batch)
	require.NoError(t, err)

	assert.True(t, m.IsTrained())
	assert.Equal(t, 100, metrics.SamplesTrained)
	assert.GreaterOrEqual(t, metrics.AnomalyRate, 0.0)
	assert.LessOrEqual(t, metrics.AnomalyRate, 1.0)
	assert.Equal(t, Version, metrics.Version)
	assert.InDelta(t, 10, metrics.AnomaliesDetected, 2)

	_, err = time.Parse(time.RFC3339Nano, metrics.TrainingDate)
	assert.NoError(t, err)

	info := m.Info()
	assert.Equal(t, features.Names(), info.FeatureNames)
	assert.False(t, info.TrainingDate.IsZero())
}

func TestTrainEmptyBatch(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	_, err = m.Train(context.Background(), events.Batch{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.False(t, m.IsTrained())
}

func TestTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := New()
	require.NoError(t, err)

	_, err = m.Train(ctx, hourlyBatch(rand.New(rand.NewSource(1)), 50))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.IsTrained())
}

func TestUntrainedUse(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	batch := hourlyBatch(rand.New(rand.NewSource(1)), 5)

	_, _, err = m.Predict(batch)
	assert.ErrorIs(t, err, ErrNotTrained)

	_, err = m.DetectAnomalies(batch, nil)
	assert.ErrorIs(t, err, ErrNotTrained)

	assert.Empty(t, m.FeatureImportance())

	err = m.Save(&bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNotTrained)
	var perr *PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestPredict(t *testing.T) {
	batch := hourlyBatch(rand.New(rand.NewSource(2)), 100)
	m := trainedModel(t, batch)

	predictions, scores, err := m.Predict(batch[:10])
	require.NoError(t, err)

	assert.Len(t, predictions, 10)
	assert.Len(t, scores, 10)
	for i := range predictions {
		assert.Contains(t, []int{detectors.Outlier, detectors.Inlier}, predictions[i])
		assert.Less(t, scores[i], 0.0)
	}
}

func TestPredictDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	train := hourlyBatch(rng, 100)
	heldOut := hourlyBatch(rng, 30)

	a := trainedModel(t, train)
	b := trainedModel(t, train)

	pa, sa, err := a.Predict(heldOut)
	require.NoError(t, err)
	pb, sb, err := b.Predict(heldOut)
	require.NoError(t, err)

	assert.Equal(t, pa, pb)
	assert.Equal(t, sa, sb)
}

func TestDetectAnomalies(t *testing.T) {
	batch := hourlyBatch(rand.New(rand.NewSource(4)), 100)
	m := trainedModel(t, batch)

	result, err := m.DetectAnomalies(batch[:10], nil)
	require.NoError(t, err)

	require.Len(t, result.Rows, 10)
	assert.False(t, result.Degraded)
	for i, row := range result.Rows {
		assert.Equal(t, batch[i], row.Event, "row order must be preserved")
		assert.GreaterOrEqual(t, row.Confidence, 0.0)
		assert.LessOrEqual(t, row.Confidence, 100.0)
		assert.Equal(t, SeverityFor(row.Confidence), row.Severity)
	}
	assert.Equal(t, 10, result.Total())
	assert.Equal(t, len(result.Anomalies()), result.AnomalyCount())
	assert.Equal(t, batch[:10], result.Events())

	// The lowest score in the batch gets full confidence.
	lowest := 0
	for i, row := range result.Rows {
		if row.AnomalyScore < result.Rows[lowest].AnomalyScore {
			lowest = i
		}
	}
	assert.InDelta(t, 100, result.Rows[lowest].Confidence, 1e-6)
}

func TestDetectAnomaliesMatchesPredict(t *testing.T) {
	batch := hourlyBatch(rand.New(rand.NewSource(5)), 100)
	m := trainedModel(t, batch)

	predictions, scores, err := m.Predict(batch)
	require.NoError(t, err)

	result, err := m.DetectAnomalies(batch, nil)
	require.NoError(t, err)

	for i, row := range result.Rows {
		assert.Equal(t, predictions[i] == detectors.Outlier, row.IsAnomaly)
		assert.Equal(t, scores[i], row.AnomalyScore)
	}
}

func TestDetectAnomaliesThreshold(t *testing.T) {
	batch := hourlyBatch(rand.New(rand.NewSource(6)), 100)
	m := trainedModel(t, batch)

	tests := []struct {
		name      string
		threshold float64
		wantAll   *bool
	}{
		{name: "above every score", threshold: 0.1, wantAll: boolPtr(true)},
		{name: "below every score", threshold: -2, wantAll: boolPtr(false)},
		{name: "inside score range", threshold: -0.45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			threshold := tt.threshold
			result, err := m.DetectAnomalies(batch, &threshold)
			require.NoError(t, err)

			for _, row := range result.Rows {
				assert.Equal(t, row.AnomalyScore < threshold, row.IsAnomaly)
				if tt.wantAll != nil {
					assert.Equal(t, *tt.wantAll, row.IsAnomaly)
				}
			}
		})
	}
}

func TestDetectAnomaliesSingleRow(t *testing.T) {
	batch := hourlyBatch(rand.New(rand.NewSource(7)), 100)
	m := trainedModel(t, batch)

	result, err := m.DetectAnomalies(batch[3:4], nil)
	require.NoError(t, err)

	require.Len(t, result.Rows, 1)
	assert.Equal(t, 100.0, result.Rows[0].Confidence)
	assert.Equal(t, SeverityCritical, result.Rows[0].Severity)
}

func TestDetectAnomaliesBatchRelativeConfidence(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	batch := hourlyBatch(rng, 100)
	m := trainedModel(t, batch)

	alone, err := m.DetectAnomalies(batch[:1], nil)
	require.NoError(t, err)
	together, err := m.DetectAnomalies(batch[:20], nil)
	require.NoError(t, err)

	assert.Equal(t, alone.Rows[0].AnomalyScore, together.Rows[0].AnomalyScore)
	if together.Rows[0].Confidence != 100 {
		assert.NotEqual(t, alone.Rows[0].Confidence, together.Rows[0].Confidence)
	}
}

func TestDetectAnomaliesEmptyBatch(t *testing.T) {
	m := trainedModel(t, hourlyBatch(rand.New(rand.NewSource(9)), 50))

	result, err := m.DetectAnomalies(events.Batch{}, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
	assert.Equal(t, 0.0, result.AnomalyRate())
}

func TestDetectAnomaliesMissingColumns(t *testing.T) {
	m := trainedModel(t, hourlyBatch(rand.New(rand.NewSource(10)), 100))

	sparse := events.Batch{
		{BytesSent: 5000},
		{SourceIP: "10.0.0.1"},
		{},
	}
	result, err := m.DetectAnomalies(sparse, nil)
	require.NoError(t, err)
	assert.Len(t, result.Rows, len(sparse))
}

func TestFeatureImportance(t *testing.T) {
	m := trainedModel(t, hourlyBatch(rand.New(rand.NewSource(11)), 50))

	importance := m.FeatureImportance()
	require.Len(t, importance, features.Count)
	assert.Equal(t, 1.0, importance["bytes_sent"])
	assert.Equal(t, 0.5, importance["bytes_received"])
	assert.InDelta(t, 1.0/9, importance["port_entropy"], 1e-12)
}

func TestSaveLoad(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	batch := hourlyBatch(rng, 100)
	test := hourlyBatch(rng, 25)
	original := trainedModel(t, batch)

	path := filepath.Join(t.TempDir(), "models", "anomaly_detector_v1.gob")
	require.NoError(t, original.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, loaded.IsTrained())
	assert.Equal(t, original.Info(), loaded.Info())

	wantP, wantS, err := original.Predict(test)
	require.NoError(t, err)
	gotP, gotS, err := loaded.Predict(test)
	require.NoError(t, err)
	assert.Equal(t, wantP, gotP)
	assert.Equal(t, wantS, gotS)

	// No temporary files are left beside the model.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveLoadStream(t *testing.T) {
	batch := hourlyBatch(rand.New(rand.NewSource(13)), 60)
	original := trainedModel(t, batch)

	var buf bytes.Buffer
	require.NoError(t, original.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	want, err := original.DetectAnomalies(batch, nil)
	require.NoError(t, err)
	got, err := loaded.DetectAnomalies(batch, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.gob"))
		var perr *PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "load", perr.Op)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("corrupt blob", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.gob")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

		_, err := LoadFile(path)
		var perr *PersistenceError
		assert.ErrorAs(t, err, &perr)
	})

	t.Run("feature contract mismatch", func(t *testing.T) {
		m := trainedModel(t, hourlyBatch(rand.New(rand.NewSource(14)), 30))
		m.featureNames = append(m.featureNames[:8:8], "port_shannon_entropy")

		var buf bytes.Buffer
		require.NoError(t, m.Save(&buf))

		_, err := Load(&buf)
		assert.ErrorContains(t, err, "feature contract mismatch")
	})
}

func TestSaveFileUnwritable(t *testing.T) {
	m := trainedModel(t, hourlyBatch(rand.New(rand.NewSource(15)), 30))

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := m.SaveFile(filepath.Join(blocker, "model.gob"))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save", perr.Op)
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Severity
	}{
		{0, SeverityLow},
		{59.999, SeverityLow},
		{60, SeverityMedium},
		{74.9, SeverityMedium},
		{75, SeverityHigh},
		{89.99, SeverityHigh},
		{90, SeverityCritical},
		{100, SeverityCritical},
		{-1, SeverityLow},
		{101, SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.confidence), "confidence %v", tt.confidence)
	}
}

func TestPassThrough(t *testing.T) {
	batch := hourlyBatch(rand.New(rand.NewSource(16)), 3)
	result := PassThrough(batch)

	assert.True(t, result.Degraded)
	assert.Equal(t, batch, result.Events())
	assert.Equal(t, 0, result.AnomalyCount())
}

func TestPassThroughKeepsSeverity(t *testing.T) {
	result := PassThrough(events.Batch{
		{SourceIP: "10.0.0.1", Severity: "high"},
		{SourceIP: "10.0.0.2"},
	})

	raw, err := json.Marshal(result.Rows)
	require.NoError(t, err)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "high", rows[0]["severity"])
	assert.Equal(t, false, rows[0]["is_anomaly"])
	assert.NotContains(t, rows[1], "severity")
	assert.NotContains(t, rows[0], "timestamp")
}

func TestDetectionJSON(t *testing.T) {
	d := Detection{
		Event: events.Event{
			Timestamp:       time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
			SourceIP:        "10.0.0.1",
			DestinationPort: events.Port(443),
			BytesSent:       5000,
		},
		IsAnomaly:    true,
		AnomalyScore: -0.7,
		Confidence:   92,
		Severity:     SeverityCritical,
	}

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"timestamp":"2024-01-01T10:00:00Z"`)
	assert.Contains(t, string(raw), `"is_anomaly":true`)
	assert.Contains(t, string(raw), `"severity":"critical"`)

	var got Detection
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, d, got)
}

func BenchmarkDetectAnomalies(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	m, _ := New()
	m.Train(context.Background(), hourlyBatch(rng, 1000))
	batch := hourlyBatch(rng, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.DetectAnomalies(batch, nil)
	}
}

func trainedModel(t *testing.T, batch events.Batch) *Model {
	t.Helper()
	m, err := New(WithContamination(0.1))
	require.NoError(t, err)
	_, err = m.Train(context.Background(), batch)
	require.NoError(t, err)
	return m
}

// hourlyBatch builds n events with hourly timestamps and normal traffic ranges.
func hourlyBatch(rng *rand.Rand, n int) events.Batch {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := make(events.Batch, n)
	for i := range batch {
		batch[i] = events.Event{
			Timestamp:       start.Add(time.Duration(i) * time.Hour),
			BytesSent:       1000 + rng.Int63n(49000),
			BytesReceived:   1000 + rng.Int63n(49000),
			PacketsSent:     10 + rng.Int63n(90),
			PacketsReceived: 10 + rng.Int63n(90),
		}
	}
	return batch
}

func boolPtr(b bool) *bool {
	return &b
}

func TestModelPath(t *testing.T) {
	assert.Equal(t, filepath.Join("models", ModelFile), ModelPath("models"))
	assert.Equal(t, "anomaly_detector_v1.gob", ModelFile)
}
