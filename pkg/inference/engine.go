// Package inference serves predictions from a trained anomaly model.
//
// The Engine loads the model once and scores batches from any number of
// goroutines. When no model is available it degrades to passing events
// through unannotated instead of failing.
package inference

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hed1ad/netguard/pkg/anomaly"
	"github.com/hed1ad/netguard/pkg/events"
	"github.com/hed1ad/netguard/pkg/forecast"
)

// ErrNoForecaster is returned by ForecastCapacity when the engine was built
// without a forecaster.
var ErrNoForecaster = errors.New("inference: no forecaster configured")

// Engine scores event batches with the current anomaly model.
type Engine struct {
	modelPath  string
	model      atomic.Pointer[anomaly.Model]
	forecaster forecast.Forecaster
	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *metrics

	lastLatency atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRegisterer registers the engine's metrics with reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithForecaster enables ForecastCapacity.
func WithForecaster(f forecast.Forecaster) Option {
	return func(e *Engine) {
		e.forecaster = f
	}
}

// New creates an engine serving the model stored in modelsDir. A missing or
// unreadable model is logged and leaves the engine degraded.
func New(modelsDir string, opts ...Option) *Engine {
	e := &Engine{
		modelPath: anomaly.ModelPath(modelsDir),
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.registerer == nil {
		e.registerer = prometheus.NewRegistry()
	}
	e.metrics = newMetrics(e.registerer)

	if err := e.Reload(); err != nil {
		e.logger.Warn("anomaly model not available, serving unannotated events",
			zap.String("path", e.modelPath),
			zap.Error(err))
	}

	return e
}

// Reload reads the model from disk and swaps it in. On failure the current
// model keeps serving.
func (e *Engine) Reload() error {
	model, err := anomaly.LoadFile(e.modelPath, anomaly.WithLogger(e.logger))
	if err != nil {
		e.metrics.modelReloads.WithLabelValues("failure").Inc()
		return err
	}

	e.model.Store(model)
	e.metrics.modelReloads.WithLabelValues("success").Inc()

	info := model.Info()
	e.logger.Info("anomaly model loaded",
		zap.String("path", e.modelPath),
		zap.String("version", info.Version),
		zap.Time("training_date", info.TrainingDate))

	return nil
}

// Ready reports whether a model is loaded.
func (e *Engine) Ready() bool {
	return e.model.Load() != nil
}

// Model returns the current model, or nil when degraded.
func (e *Engine) Model() *anomaly.Model {
	return e.model.Load()
}

// ModelPath returns the file the engine loads from.
func (e *Engine) ModelPath() string {
	return e.modelPath
}

// LastLatency returns the duration of the most recent successful detection.
func (e *Engine) LastLatency() time.Duration {
	return time.Duration(e.lastLatency.Load())
}

// DetectAnomalies scores batch. Without a model the events are returned
// unannotated with Result.Degraded set.
func (e *Engine) DetectAnomalies(batch events.Batch, threshold *float64) (*anomaly.Result, error) {
	model := e.model.Load()
	if model == nil {
		e.logger.Warn("no anomaly model loaded, passing events through", zap.Int("events", len(batch)))
		return anomaly.PassThrough(batch), nil
	}

	start := time.Now()
	result, err := model.DetectAnomalies(batch, threshold)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	e.lastLatency.Store(int64(elapsed))
	e.metrics.inferenceDuration.WithLabelValues(anomaly.Name).Observe(elapsed.Seconds())
	for _, d := range result.Anomalies() {
		e.metrics.anomaliesDetected.WithLabelValues(string(d.Severity)).Inc()
	}

	e.logger.Debug("inference complete",
		zap.Int("events", result.Total()),
		zap.Int("anomalies", result.AnomalyCount()),
		zap.Duration("latency", elapsed))

	return result, nil
}

// ForecastCapacity predicts the next steps values of a utilization series.
func (e *Engine) ForecastCapacity(history []float64, steps int) ([]float64, error) {
	if e.forecaster == nil {
		return nil, ErrNoForecaster
	}
	return e.forecaster.Forecast(history, steps)
}
