package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/pkg/cache"
)

// CacheSource is anything that reports cache statistics
type CacheSource interface {
	Metrics() *cache.Metrics
}

// Collector collects and aggregates metrics for the application.
type Collector struct {
	// API metrics
	apiRequests sync.Map // map[string]*uint64 - method -> count
	apiErrors   sync.Map // map[string]*uint64 - method -> error count
	apiDuration sync.Map // map[string]*durationValue - method -> total duration in seconds

	// Pipeline metrics
	filesParsed     atomic.Uint64
	entities        atomic.Uint64
	parseErrors     atomic.Uint64
	referenceErrors atomic.Uint64
	runs            atomic.Uint64
	truncatedRuns   atomic.Uint64
	elements        sync.Map // map[string]*uint64 - kind -> count
	failures        sync.Map // map[string]*uint64 - kind -> failed count

	// Cache reference (optional, for querying cache-specific metrics)
	cache CacheSource

	// Exporter mirrors pipeline events when set
	exporter *PrometheusExporter
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// APIMetrics holds API request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// PipelineMetrics holds parse and extraction totals.
type PipelineMetrics struct {
	FilesParsed     uint64
	Entities        uint64
	ParseErrors     uint64
	ReferenceErrors uint64
	Runs            uint64
	TruncatedRuns   uint64
	Elements        map[string]uint64 // kind -> elements visited
	Failures        map[string]uint64 // kind -> elements with a failed oracle call
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache CacheSource) {
	c.cache = cache
}

// SetExporter forwards pipeline events to a Prometheus exporter.
func (c *Collector) SetExporter(exporter *PrometheusExporter) {
	c.exporter = exporter
}

// RecordRequest records an API request.
func (c *Collector) RecordRequest(method string) {
	counter := c.getOrCreateCounter(&c.apiRequests, method)
	atomic.AddUint64(counter, 1)
}

// RecordError records an API error.
func (c *Collector) RecordError(method string) {
	counter := c.getOrCreateCounter(&c.apiErrors, method)
	atomic.AddUint64(counter, 1)
}

// RecordDuration records the duration of an API call in seconds.
func (c *Collector) RecordDuration(method string, durationSeconds float64) {
	val, _ := c.apiDuration.LoadOrStore(method, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// RecordParse records one parsed file.
func (c *Collector) RecordParse(entityCount, parseErrors, referenceErrors int) {
	c.filesParsed.Add(1)
	c.entities.Add(uint64(entityCount))
	c.parseErrors.Add(uint64(parseErrors))
	c.referenceErrors.Add(uint64(referenceErrors))
	if c.exporter != nil {
		c.exporter.RecordParse(entityCount, parseErrors, referenceErrors)
	}
}

// RecordExtraction records one extraction run.
func (c *Collector) RecordExtraction(stats map[entities.ShapeKind]entities.KindStats, truncated bool) {
	c.runs.Add(1)
	if truncated {
		c.truncatedRuns.Add(1)
	}
	for kind, s := range stats {
		atomic.AddUint64(c.getOrCreateCounter(&c.elements, kind.String()), uint64(s.Total))
		atomic.AddUint64(c.getOrCreateCounter(&c.failures, kind.String()), uint64(s.Failed))
	}
	if c.exporter != nil {
		c.exporter.RecordExtraction(stats, truncated)
	}
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	return &CacheMetrics{
		Hits:        metrics.Hits,
		Misses:      metrics.Misses,
		HitRate:     metrics.HitRate(),
		Evictions:   metrics.KeysEvicted,
		KeysCurrent: int64(metrics.KeysCurrent),
		MemoryBytes: metrics.SizeBytes,
	}
}

// GetAPIMetrics returns current API metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	result := &APIMetrics{
		RequestCounts:        loadCounters(&c.apiRequests),
		ErrorCounts:          loadCounters(&c.apiErrors),
		TotalDurationSeconds: make(map[string]float64),
	}

	// Collect duration totals
	c.apiDuration.Range(func(key, value any) bool {
		method := key.(string)
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[method] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

// GetPipelineMetrics returns current parse and extraction totals.
func (c *Collector) GetPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		FilesParsed:     c.filesParsed.Load(),
		Entities:        c.entities.Load(),
		ParseErrors:     c.parseErrors.Load(),
		ReferenceErrors: c.referenceErrors.Load(),
		Runs:            c.runs.Load(),
		TruncatedRuns:   c.truncatedRuns.Load(),
		Elements:        loadCounters(&c.elements),
		Failures:        loadCounters(&c.failures),
	}
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}

// loadCounters snapshots a map of counters
func loadCounters(m *sync.Map) map[string]uint64 {
	result := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		result[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})
	return result
}
