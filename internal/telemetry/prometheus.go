package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultLatencyBuckets are the search latency histogram bounds in seconds.
var DefaultLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// PrometheusExporter exposes search metrics in the Prometheus text format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	searches    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	results     *prometheus.HistogramVec
	zeroResults *prometheus.CounterVec
}

// NewPrometheusExporter registers the search metrics on a new registry,
// or on reg when it is non-nil.
func NewPrometheusExporter(reg *prometheus.Registry) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{
		registry: reg,
		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framescope",
				Subsystem: "search",
				Name:      "requests_total",
				Help:      "Total number of searches by modality mix and status",
			},
			[]string{"modalities", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "framescope",
				Subsystem: "search",
				Name:      "latency_seconds",
				Help:      "Search latency in seconds",
				Buckets:   DefaultLatencyBuckets,
			},
			[]string{"modalities"},
		),
		results: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "framescope",
				Subsystem: "search",
				Name:      "results",
				Help:      "Number of fused frames per search",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
			},
			[]string{"modalities"},
		),
		zeroResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framescope",
				Subsystem: "search",
				Name:      "zero_results_total",
				Help:      "Searches that matched no frame",
			},
			[]string{"modalities"},
		),
	}

	reg.MustRegister(e.searches, e.latency, e.results, e.zeroResults)
	return e
}

// Record implements Recorder.
func (e *PrometheusExporter) Record(event QueryEvent) {
	mix := string(event.QueryType)
	e.searches.WithLabelValues(mix, event.Status()).Inc()
	e.latency.WithLabelValues(mix).Observe(event.Latency.Seconds())
	if event.Failed {
		return
	}
	e.results.WithLabelValues(mix).Observe(float64(event.ResultCount))
	if event.IsZeroResult() {
		e.zeroResults.WithLabelValues(mix).Inc()
	}
}

// Registry returns the registry the metrics are registered on.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry for scraping.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
