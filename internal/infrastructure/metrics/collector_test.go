package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/pkg/cache"
)

type fakeCache struct {
	metrics *cache.Metrics
}

func (f fakeCache) Metrics() *cache.Metrics {
	return f.metrics
}

func TestCollector_Pipeline(t *testing.T) {
	collector := NewCollector()

	collector.RecordParse(120, 2, 1)
	collector.RecordParse(30, 0, 0)
	collector.RecordExtraction(map[entities.ShapeKind]entities.KindStats{
		entities.ShapeFace: {Total: 3, Failed: 1},
		entities.ShapeEdge: {Total: 2},
	}, false)
	collector.RecordExtraction(map[entities.ShapeKind]entities.KindStats{
		entities.ShapeFace: {Total: 1},
	}, true)

	m := collector.GetPipelineMetrics()
	assert.Equal(t, uint64(2), m.FilesParsed)
	assert.Equal(t, uint64(150), m.Entities)
	assert.Equal(t, uint64(2), m.ParseErrors)
	assert.Equal(t, uint64(1), m.ReferenceErrors)
	assert.Equal(t, uint64(2), m.Runs)
	assert.Equal(t, uint64(1), m.TruncatedRuns)
	assert.Equal(t, uint64(4), m.Elements["Face"])
	assert.Equal(t, uint64(1), m.Failures["Face"])
	assert.Equal(t, uint64(2), m.Elements["Edge"])
}

func TestCollector_CacheMetrics(t *testing.T) {
	collector := NewCollector()
	empty := collector.GetCacheMetrics()
	assert.Zero(t, empty.Hits, "no cache attached")
	assert.Zero(t, empty.KeysCurrent, "no cache attached")

	collector.SetCache(fakeCache{metrics: &cache.Metrics{Hits: 3, Misses: 1, KeysEvicted: 2, KeysCurrent: 4, SizeBytes: 2048}})
	got := collector.GetCacheMetrics()
	assert.EqualValues(t, 3, got.Hits)
	assert.EqualValues(t, 2, got.Evictions)
	assert.EqualValues(t, 4, got.KeysCurrent)
	assert.EqualValues(t, 2048, got.MemoryBytes)
	assert.InDelta(t, 0.75, got.HitRate, 1e-9)
}

func TestCollector_ForwardsToExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewCollector()
	exporter := NewPrometheusExporter(collector, reg)
	collector.SetExporter(exporter)
	collector.SetCache(fakeCache{metrics: &cache.Metrics{KeysCurrent: 2, SizeBytes: 512}})

	collector.RecordParse(10, 1, 0)
	collector.RecordExtraction(map[entities.ShapeKind]entities.KindStats{
		entities.ShapeVertex: {Total: 4, Failed: 2},
	}, true)
	exporter.Update()

	families := gather(t, reg)
	want := map[string]float64{
		"stepscope_files_parsed_total":         1,
		"stepscope_entities_total":             10,
		"stepscope_parse_errors_total":         1,
		"stepscope_elements_total":             4,
		"stepscope_element_failures_total":     2,
		"stepscope_truncated_runs_total":       1,
		"stepscope_session_cache_keys_current": 2,
		"stepscope_session_cache_memory_bytes": 512,
	}
	for name, value := range want {
		assert.Equal(t, value, families[name], name)
	}
}
