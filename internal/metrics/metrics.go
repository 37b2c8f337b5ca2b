package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConfidenceBuckets are the histogram bounds for the best-match confidence.
var ConfidenceBuckets = []float64{0, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 0.75, 0.8, 0.9, 0.95, 0.975, 0.99, 1}

type Options struct {
	// RecordConfidence registers the prediction_confidence histogram.
	RecordConfidence bool
	// ProcessCollectors adds the Go runtime and process collectors.
	ProcessCollectors bool
}

// Metrics owns a registry with the service's collectors. It is built once
// at startup and shared by reference.
type Metrics struct {
	registry   *prometheus.Registry
	latency    *prometheus.HistogramVec
	requests   *prometheus.CounterVec
	confidence *prometheus.HistogramVec
}

func New(opts Options) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "request_latency_seconds",
				Help:    "Time spent processing request in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"model_version"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_count",
				Help: "Total number of requests",
			}, []string{"model_version", "predicted_label"},
		),
	}
	m.registry.MustRegister(m.latency, m.requests)

	if opts.RecordConfidence {
		m.confidence = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prediction_confidence",
				Help:    "Confidence score of best label match.",
				Buckets: ConfidenceBuckets,
			}, []string{"model_version", "predicted_label"},
		)
		m.registry.MustRegister(m.confidence)
	}
	if opts.ProcessCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Metrics) ObserveLatency(modelVersion string, d time.Duration) {
	m.latency.WithLabelValues(modelVersion).Observe(d.Seconds())
}

// ObservePrediction counts one prediction and, when enabled, records its
// confidence.
func (m *Metrics) ObservePrediction(modelVersion, label string, confidence float64) {
	m.requests.WithLabelValues(modelVersion, label).Inc()
	if m.confidence != nil {
		m.confidence.WithLabelValues(modelVersion, label).Observe(confidence)
	}
}

func (m *Metrics) RecordsConfidence() bool { return m.confidence != nil }

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
