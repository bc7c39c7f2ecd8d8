package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/asakaida/stepscope/internal/entities"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// Pipeline metrics
	filesParsed     prometheus.Counter
	entities        prometheus.Counter
	parseErrors     prometheus.Counter
	referenceErrors prometheus.Counter
	elements        *prometheus.CounterVec
	failures        *prometheus.CounterVec
	truncatedRuns   prometheus.Counter

	// Session cache metrics
	cacheHitRate     prometheus.Gauge
	cacheKeys        prometheus.Gauge
	cacheMemoryBytes prometheus.Gauge

	// API metrics
	grpcRequests *prometheus.CounterVec
	grpcDuration *prometheus.HistogramVec
	grpcErrors   *prometheus.CounterVec
}

// NewPrometheusExporter creates a new Prometheus exporter whose metrics are
// registered on reg. A nil reg selects the default registerer.
func NewPrometheusExporter(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusExporter{
		collector: collector,
		filesParsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "stepscope_files_parsed_total",
			Help: "Total number of exchange files parsed",
		}),
		entities: factory.NewCounter(prometheus.CounterOpts{
			Name: "stepscope_entities_total",
			Help: "Total number of entities read into entity tables",
		}),
		parseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "stepscope_parse_errors_total",
			Help: "Total number of recoverable parse errors",
		}),
		referenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "stepscope_reference_errors_total",
			Help: "Total number of dangling or cyclic references",
		}),
		elements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepscope_elements_total",
				Help: "Total number of topological elements extracted",
			},
			[]string{"kind"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepscope_element_failures_total",
				Help: "Total number of elements with a failed oracle call",
			},
			[]string{"kind"},
		),
		truncatedRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "stepscope_truncated_runs_total",
			Help: "Total number of extractions cancelled before completion",
		}),
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stepscope_session_cache_hit_rate",
			Help: "Current session cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stepscope_session_cache_keys_current",
			Help: "Current number of parse sessions in the cache",
		}),
		cacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stepscope_session_cache_memory_bytes",
			Help: "Estimated memory held by cached parse sessions in bytes",
		}),
		grpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepscope_grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method"},
		),
		grpcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepscope_grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 60.0},
			},
			[]string{"method"},
		),
		grpcErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepscope_grpc_errors_total",
				Help: "Total number of gRPC errors by status code",
			},
			[]string{"method", "code"},
		),
	}
}

// Update updates Gauge metrics from the collector.
// Counters are updated as events happen, so only update gauges here.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
}

// RecordParse records one parsed file.
func (e *PrometheusExporter) RecordParse(entityCount, parseErrors, referenceErrors int) {
	e.filesParsed.Inc()
	e.entities.Add(float64(entityCount))
	e.parseErrors.Add(float64(parseErrors))
	e.referenceErrors.Add(float64(referenceErrors))
}

// RecordExtraction records one extraction run.
func (e *PrometheusExporter) RecordExtraction(stats map[entities.ShapeKind]entities.KindStats, truncated bool) {
	for kind, s := range stats {
		e.elements.WithLabelValues(kind.String()).Add(float64(s.Total))
		e.failures.WithLabelValues(kind.String()).Add(float64(s.Failed))
	}
	if truncated {
		e.truncatedRuns.Inc()
	}
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.grpcRequests.WithLabelValues(method).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.grpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordError records an error with its gRPC status code in Prometheus.
func (e *PrometheusExporter) RecordError(method, code string) {
	e.grpcErrors.WithLabelValues(method, code).Inc()
}
