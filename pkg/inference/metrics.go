package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "netguard"

// metrics holds the engine's Prometheus collectors.
type metrics struct {
	inferenceDuration *prometheus.HistogramVec
	anomaliesDetected *prometheus.CounterVec
	modelReloads      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		inferenceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Duration of model inference in seconds.",
				// 1ms -> 2ms -> ... -> ~4s
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"model"},
		),
		anomaliesDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomalies_detected_total",
				Help:      "Total number of anomalies detected by severity.",
			},
			[]string{"severity"},
		),
		modelReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_reloads_total",
				Help:      "Total number of model reloads by outcome.",
			},
			[]string{"outcome"},
		),
	}
}
