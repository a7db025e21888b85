// Package anomaly implements the network anomaly model: feature extraction,
// scaling and isolation-forest scoring behind a train/predict/detect contract.
package anomaly

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hed1ad/netguard/pkg/detectors"
	"github.com/hed1ad/netguard/pkg/detectors/iforest"
	"github.com/hed1ad/netguard/pkg/events"
	"github.com/hed1ad/netguard/pkg/features"
	netio "github.com/hed1ad/netguard/pkg/io"
	"github.com/hed1ad/netguard/pkg/preprocessing"
)

// Model defaults.
const (
	Version              = "1.0.0"
	DefaultContamination = 0.1
	DefaultSeed          = 42

	// Name identifies this model in persisted predictions and alerts.
	Name = "network_anomaly_detector"

	nEstimators = 100
	maxFeatures = 1.0
)

// confidenceEpsilon keeps the confidence rescale defined when every score in
// a batch is equal.
const confidenceEpsilon = 1e-10

// Model is an isolation-forest anomaly detector over network events.
//
// A Model is untrained after New. Train or Load makes it usable; after that
// it is read-only and safe for concurrent Predict and DetectAnomalies calls.
type Model struct {
	mu sync.RWMutex

	contamination float64
	seed          int64
	logger        *zap.Logger

	extractor    netio.FeatureExtractor
	scaler       *preprocessing.StandardScaler
	forest       *iforest.IsolationForest
	featureNames []string
	trained      bool
	trainingDate time.Time
	version      string
}

// Option configures a Model.
type Option func(*Model)

// WithContamination sets the expected fraction of outliers.
func WithContamination(c float64) Option {
	return func(m *Model) {
		m.contamination = c
	}
}

// WithSeed sets the random seed of the underlying estimator.
func WithSeed(seed int64) Option {
	return func(m *Model) {
		m.seed = seed
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates an untrained model.
func New(opts ...Option) (*Model, error) {
	m := &Model{
		contamination: DefaultContamination,
		seed:          DefaultSeed,
		logger:        zap.NewNop(),
		extractor:     features.NewExtractor(),
		version:       Version,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.contamination <= 0 || m.contamination >= 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidContamination, m.contamination)
	}

	m.logger.Debug("initialized network anomaly detector",
		zap.Float64("contamination", m.contamination),
		zap.Int64("seed", m.seed))

	return m, nil
}

// TrainingMetrics summarizes a training run.
type TrainingMetrics struct {
	SamplesTrained    int     `json:"samples_trained"`
	AnomaliesDetected int     `json:"anomalies_detected"`
	AnomalyRate       float64 `json:"anomaly_rate"`
	TrainingDate      string  `json:"training_date"`
	Version           string  `json:"version"`
}

func (m *Model) detectorConfig() detectors.Config {
	cfg := detectors.DefaultConfig()
	cfg.Contamination = m.contamination
	cfg.Trees = nEstimators
	cfg.RandomSeed = m.seed
	return cfg
}

// Train fits the scaler and the isolation forest on batch.
func (m *Model) Train(ctx context.Context, batch events.Batch) (TrainingMetrics, error) {
	if len(batch) == 0 {
		return TrainingMetrics{}, ErrEmptyBatch
	}

	m.logger.Info("training anomaly detector", zap.Int("samples", len(batch)))

	x, err := m.extractor.Extract(batch)
	if err != nil {
		return TrainingMetrics{}, fmt.Errorf("extract features: %w", err)
	}

	scaler := preprocessing.NewStandardScaler()
	scaled, err := scaler.FitTransform(x)
	if err != nil {
		return TrainingMetrics{}, fmt.Errorf("fit scaler: %w", err)
	}

	opts := append(iforest.FromConfig(m.detectorConfig()), iforest.WithMaxFeatures(maxFeatures))
	forest := iforest.New(opts...)
	if err := forest.Fit(ctx, scaled); err != nil {
		return TrainingMetrics{}, fmt.Errorf("fit isolation forest: %w", err)
	}

	predictions, err := forest.Predict(scaled)
	if err != nil {
		return TrainingMetrics{}, fmt.Errorf("score training data: %w", err)
	}
	anomalies := 0
	for _, p := range predictions {
		if p == detectors.Outlier {
			anomalies++
		}
	}

	trainedAt := time.Now().UTC()

	m.mu.Lock()
	m.scaler = scaler
	m.forest = forest
	m.featureNames = m.extractor.FeatureNames()
	m.trained = true
	m.trainingDate = trainedAt
	m.mu.Unlock()

	rate := float64(anomalies) / float64(len(predictions))
	m.logger.Info("training complete",
		zap.Int("anomalies", anomalies),
		zap.Float64("anomaly_rate", rate))

	return TrainingMetrics{
		SamplesTrained:    len(batch),
		AnomaliesDetected: anomalies,
		AnomalyRate:       rate,
		TrainingDate:      trainedAt.Format(time.RFC3339Nano),
		Version:           m.version,
	}, nil
}

// Predict returns per-row labels (detectors.Outlier or detectors.Inlier) and
// raw anomaly scores, where lower scores are more anomalous.
func (m *Model) Predict(batch events.Batch) ([]int, []float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return nil, nil, ErrNotTrained
	}

	x, err := m.extractor.Extract(batch)
	if err != nil {
		return nil, nil, fmt.Errorf("extract features: %w", err)
	}
	if len(x) == 0 {
		return []int{}, []float64{}, nil
	}

	scaled, err := m.scaler.Transform(x)
	if err != nil {
		return nil, nil, fmt.Errorf("scale features: %w", err)
	}

	return m.forest.PredictWithScores(scaled)
}

// DetectAnomalies scores batch and annotates every row.
//
// Without a threshold a row is anomalous when the forest labels it an outlier.
// With a threshold a row is anomalous when its score is below it.
// Confidence rescales the scores of this batch to [0, 100], so the same event
// can get different confidences in different batches. A single-row batch
// always gets confidence 100.
func (m *Model) DetectAnomalies(batch events.Batch, threshold *float64) (*Result, error) {
	predictions, scores, err := m.Predict(batch)
	if err != nil {
		return nil, err
	}

	result := &Result{Rows: make([]Detection, len(batch))}
	if len(batch) == 0 {
		return result, nil
	}

	minScore, maxScore := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	for i, ev := range batch {
		isAnomaly := predictions[i] == detectors.Outlier
		if threshold != nil {
			isAnomaly = scores[i] < *threshold
		}

		confidence := 100 * (1 - (scores[i]-minScore)/(maxScore-minScore+confidenceEpsilon))
		confidence = clamp(confidence, 0, 100)

		result.Rows[i] = Detection{
			Event:        ev,
			IsAnomaly:    isAnomaly,
			AnomalyScore: scores[i],
			Confidence:   confidence,
			Severity:     SeverityFor(confidence),
		}
	}

	m.logger.Info("detected anomalies",
		zap.Int("anomalies", result.AnomalyCount()),
		zap.Int("events", len(batch)))

	return result, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FeatureImportance returns an approximate importance per feature.
// Isolation forests have no native importance; this weights features by
// their position in the feature contract.
func (m *Model) FeatureImportance() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	importance := make(map[string]float64, len(m.featureNames))
	if !m.trained {
		return importance
	}
	for i, name := range m.featureNames {
		importance[name] = 1.0 / float64(i+1)
	}
	return importance
}

// Info describes a model.
type Info struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Trained       bool      `json:"trained"`
	TrainingDate  time.Time `json:"training_date,omitempty"`
	Contamination float64   `json:"contamination"`
	FeatureNames  []string  `json:"feature_names"`
}

// Info returns the model's metadata.
func (m *Model) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.featureNames))
	copy(names, m.featureNames)

	return Info{
		Name:          Name,
		Version:       m.version,
		Trained:       m.trained,
		TrainingDate:  m.trainingDate,
		Contamination: m.contamination,
		FeatureNames:  names,
	}
}

// IsTrained reports whether the model can score events.
func (m *Model) IsTrained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trained
}

// Version returns the model's semantic version.
func (m *Model) Version() string {
	return m.version
}
