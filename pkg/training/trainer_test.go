package training

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/netguard/pkg/anomaly"
	"github.com/hed1ad/netguard/pkg/datagen"
	"github.com/hed1ad/netguard/pkg/io/csv"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func writeTrainingData(t *testing.T, dir string, n int) string {
	t.Helper()

	batch, labels := datagen.NewSeeded(42).NetworkEvents(n, 0.05, start)

	path := filepath.Join(dir, TrainingDataFile)
	w, err := csv.NewWriter(path, csv.WithLabels())
	require.NoError(t, err)
	require.NoError(t, w.WriteLabeled(batch, labels))
	require.NoError(t, w.Close())

	return path
}

func TestModelPath(t *testing.T) {
	assert.Equal(t, filepath.Join("models", "anomaly_detector_v1.gob"), anomaly.ModelPath("models"))
	assert.Equal(t, anomaly.ModelPath("m"), NewTrainer("d", "m").ModelPath())
}

func TestTrainAnomalyDetector(t *testing.T) {
	dataDir := t.TempDir()
	modelsDir := filepath.Join(t.TempDir(), "nested", "models")
	dataPath := writeTrainingData(t, dataDir, 500)

	trainer := NewTrainer(dataDir, modelsDir, WithContamination(0.05))
	metrics, err := trainer.TrainAnomalyDetector(context.Background(), dataPath)
	require.NoError(t, err)

	assert.Equal(t, 500, metrics.SamplesTrained)
	assert.Equal(t, anomaly.Version, metrics.Version)
	assert.InDelta(t, 0.05, metrics.AnomalyRate, 0.02)

	model, err := anomaly.LoadFile(trainer.ModelPath())
	require.NoError(t, err)
	assert.True(t, model.IsTrained())
	assert.Equal(t, 0.05, model.Info().Contamination)
}

func TestTrainAnomalyDetectorErrors(t *testing.T) {
	dir := t.TempDir()
	trainer := NewTrainer(dir, dir)

	t.Run("missing file", func(t *testing.T) {
		_, err := trainer.TrainAnomalyDetector(context.Background(), filepath.Join(dir, "missing.csv"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("header only", func(t *testing.T) {
		path := filepath.Join(dir, "empty.csv")
		require.NoError(t, os.WriteFile(path, []byte("timestamp,source_ip,bytes_sent\n"), 0o644))

		_, err := trainer.TrainAnomalyDetector(context.Background(), path)
		assert.ErrorIs(t, err, anomaly.ErrEmptyBatch)
		assert.NoFileExists(t, trainer.ModelPath())
	})
}

func TestTrainBatchCancelled(t *testing.T) {
	dir := t.TempDir()
	batch := datagen.NewSeeded(1).Hourly(300, start)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTrainer(dir, dir).TrainBatch(ctx, batch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, anomaly.ModelPath(dir))
}

func TestTrainBatchInvalidContamination(t *testing.T) {
	dir := t.TempDir()
	batch := datagen.NewSeeded(1).Hourly(10, start)

	_, err := NewTrainer(dir, dir, WithContamination(1.5)).TrainBatch(context.Background(), batch)
	assert.ErrorIs(t, err, anomaly.ErrInvalidContamination)
}

func TestTrainAll(t *testing.T) {
	t.Run("no data", func(t *testing.T) {
		dir := t.TempDir()
		report := NewTrainer(dir, dir).TrainAll(context.Background())
		assert.Empty(t, report)
		assert.NoFileExists(t, anomaly.ModelPath(dir))
	})

	t.Run("trains available models", func(t *testing.T) {
		dataDir := t.TempDir()
		modelsDir := t.TempDir()
		writeTrainingData(t, dataDir, 300)

		report := NewTrainer(dataDir, modelsDir).TrainAll(context.Background())
		require.Contains(t, report, AnomalyDetector)

		metrics, ok := report[AnomalyDetector].(anomaly.TrainingMetrics)
		require.True(t, ok)
		assert.Equal(t, 300, metrics.SamplesTrained)
		assert.FileExists(t, anomaly.ModelPath(modelsDir))
	})

	t.Run("reports failures", func(t *testing.T) {
		dataDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, TrainingDataFile), []byte("bytes_sent\n"), 0o644))

		report := NewTrainer(dataDir, t.TempDir()).TrainAll(context.Background())
		require.Contains(t, report, AnomalyDetector)

		entry, ok := report[AnomalyDetector].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, entry["error"], "empty training batch")
	})
}
