// Package detectors provides unsupervised anomaly detection algorithms.
package detectors

import "context"

// Label values returned by Detector.Predict.
const (
	Outlier = -1
	Inlier  = 1
)

// Detector is the common interface for outlier estimators.
type Detector interface {
	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(ctx context.Context, data [][]float64) error

	// ScoreSamples returns the raw score of each sample.
	// Lower values indicate more anomalous samples.
	ScoreSamples(data [][]float64) ([]float64, error)

	// DecisionFunction returns ScoreSamples shifted by the fitted offset.
	// Negative values are outliers.
	DecisionFunction(data [][]float64) ([]float64, error)

	// Predict labels each sample Outlier or Inlier.
	Predict(data [][]float64) ([]int, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Config holds common configuration for detectors.
type Config struct {
	// Contamination is the expected proportion of anomalies in training data.
	Contamination float64
	// Trees is the number of estimators in ensemble detectors.
	Trees int
	// MaxSamples is the per-estimator subsample size; 0 selects it automatically.
	MaxSamples int
	// RandomSeed for reproducibility.
	RandomSeed int64
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		Trees:         100,
		MaxSamples:    0,
		RandomSeed:    42,
	}
}
