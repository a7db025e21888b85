// Package training trains anomaly models from stored event data and persists
// them under a models directory.
package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hed1ad/netguard/pkg/anomaly"
	"github.com/hed1ad/netguard/pkg/events"
	"github.com/hed1ad/netguard/pkg/io/csv"
)

// File names used inside the data directory.
const (
	TrainingDataFile = "network_events_training.csv"

	// AnomalyDetector is the key of the anomaly model in TrainAll's report.
	AnomalyDetector = "anomaly_detector"
)

// DefaultTimeout bounds a single training run.
const DefaultTimeout = 10 * time.Minute

// Trainer trains and persists models.
type Trainer struct {
	dataDir       string
	modelsDir     string
	contamination float64
	seed          int64
	timeout       time.Duration
	logger        *zap.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithContamination sets the contamination of trained models.
func WithContamination(c float64) Option {
	return func(t *Trainer) {
		t.contamination = c
	}
}

// WithSeed sets the random seed of trained models.
func WithSeed(seed int64) Option {
	return func(t *Trainer) {
		t.seed = seed
	}
}

// WithTimeout bounds each training run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(t *Trainer) {
		t.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTrainer creates a trainer reading from dataDir and writing to modelsDir.
func NewTrainer(dataDir, modelsDir string, opts ...Option) *Trainer {
	t := &Trainer{
		dataDir:       dataDir,
		modelsDir:     modelsDir,
		contamination: anomaly.DefaultContamination,
		seed:          anomaly.DefaultSeed,
		timeout:       DefaultTimeout,
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// ModelPath returns where this trainer writes the anomaly model.
func (t *Trainer) ModelPath() string {
	return anomaly.ModelPath(t.modelsDir)
}

// TrainAnomalyDetector trains the anomaly model on the CSV file at dataPath
// and saves it to ModelPath.
func (t *Trainer) TrainAnomalyDetector(ctx context.Context, dataPath string) (anomaly.TrainingMetrics, error) {
	t.logger.Info("loading training data", zap.String("path", dataPath))

	reader, err := csv.NewReader(dataPath)
	if err != nil {
		return anomaly.TrainingMetrics{}, fmt.Errorf("open training data: %w", err)
	}
	defer reader.Close()

	batch, err := reader.ReadEvents()
	if err != nil {
		return anomaly.TrainingMetrics{}, fmt.Errorf("read training data: %w", err)
	}

	return t.TrainBatch(ctx, batch)
}

// TrainBatch trains the anomaly model on batch and saves it to ModelPath.
func (t *Trainer) TrainBatch(ctx context.Context, batch events.Batch) (anomaly.TrainingMetrics, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	model, err := anomaly.New(
		anomaly.WithContamination(t.contamination),
		anomaly.WithSeed(t.seed),
		anomaly.WithLogger(t.logger),
	)
	if err != nil {
		return anomaly.TrainingMetrics{}, err
	}

	start := time.Now()
	metrics, err := model.Train(ctx, batch)
	if err != nil {
		return anomaly.TrainingMetrics{}, fmt.Errorf("train anomaly detector: %w", err)
	}

	if err := os.MkdirAll(t.modelsDir, 0o755); err != nil {
		return anomaly.TrainingMetrics{}, &anomaly.PersistenceError{Op: "save", Path: t.modelsDir, Err: err}
	}
	if err := model.SaveFile(t.ModelPath()); err != nil {
		return anomaly.TrainingMetrics{}, err
	}

	t.logger.Info("anomaly detector saved",
		zap.Int("samples", metrics.SamplesTrained),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("path", t.ModelPath()))

	return metrics, nil
}

// TrainAll trains every model whose training data exists in the data
// directory. Each entry of the report is either the model's metrics or an
// error map; a failing model does not stop the others.
func (t *Trainer) TrainAll(ctx context.Context) map[string]any {
	report := make(map[string]any)

	dataPath := filepath.Join(t.dataDir, TrainingDataFile)
	if _, err := os.Stat(dataPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("training data not found, skipping", zap.String("model", AnomalyDetector), zap.String("path", dataPath))
		} else {
			t.logger.Error("stat training data", zap.String("path", dataPath), zap.Error(err))
			report[AnomalyDetector] = map[string]any{"error": err.Error()}
		}
		return report
	}

	metrics, err := t.TrainAnomalyDetector(ctx, dataPath)
	if err != nil {
		t.logger.Error("training failed", zap.String("model", AnomalyDetector), zap.Error(err))
		report[AnomalyDetector] = map[string]any{"error": err.Error()}
		return report
	}
	report[AnomalyDetector] = metrics

	return report
}
