package geometry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/stepscope/internal/entities"
)

// staticColors is a ColorLookup over a fixed label map
type staticColors map[string]entities.RGB

func (c staticColors) Lookup(labels []string) (*entities.RGB, entities.ColorStatus) {
	for _, l := range labels {
		if rgb, ok := c[l]; ok {
			return &rgb, entities.ColorFound
		}
	}
	return nil, entities.ColorNotFound
}

func newPartOracle() *MockOracle {
	return NewMockOracle().
		WithCount(entities.ShapeFace, 3).
		WithCount(entities.ShapeEdge, 2).
		WithCount(entities.ShapeVertex, 4).
		WithCount(entities.ShapeSolid, 1)
}

func extract(t *testing.T, ctx context.Context, oracle Oracle, colors ColorLookup, cfg Config) *Extraction {
	t.Helper()
	x, err := NewExtractor(oracle, colors, cfg, nil)
	require.NoError(t, err)
	return x.Extract(ctx)
}

func TestExtractor_Counts(t *testing.T) {
	result := extract(t, context.Background(), newPartOracle(), nil, DefaultConfig())

	assert.Equal(t, 3, result.Stats[entities.ShapeFace].Total)
	assert.Equal(t, 2, result.Stats[entities.ShapeEdge].Total)
	assert.Equal(t, 4, result.Stats[entities.ShapeVertex].Total)
	assert.Equal(t, 1, result.Stats[entities.ShapeSolid].Total)
	assert.Equal(t, 10, result.Count())
	assert.Empty(t, result.Errors)
	assert.False(t, result.Truncated)

	var kinds []entities.ShapeKind
	var indexes []int
	for s := range result.All() {
		kinds = append(kinds, s.Kind)
		indexes = append(indexes, s.SequenceIndex)
	}
	assert.Equal(t, []entities.ShapeKind{
		entities.ShapeEdge, entities.ShapeEdge,
		entities.ShapeFace, entities.ShapeFace, entities.ShapeFace,
		entities.ShapeSolid,
		entities.ShapeVertex, entities.ShapeVertex, entities.ShapeVertex, entities.ShapeVertex,
	}, kinds)
	assert.Equal(t, []int{1, 2, 1, 2, 3, 1, 1, 2, 3, 4}, indexes)
}

func TestExtractor_FieldsPerKind(t *testing.T) {
	result := extract(t, context.Background(), newPartOracle(), nil, DefaultConfig())

	face := result.Summaries[entities.ShapeFace][1]
	require.NotNil(t, face.Centroid)
	assert.Equal(t, entities.Vec3{X: 1}, *face.Centroid)
	require.NotNil(t, face.FaceBounds)
	assert.Nil(t, face.EdgeParams)
	assert.Equal(t, "MOCK_Face", face.Description)
	assert.Equal(t, []string{"Face-2"}, face.Labels)

	edge := result.Summaries[entities.ShapeEdge][1]
	require.NotNil(t, edge.EdgeParams)
	assert.Equal(t, entities.EdgeParams{First: 0, Last: 2}, *edge.EdgeParams)
	assert.Nil(t, edge.FaceBounds)

	vertex := result.Summaries[entities.ShapeVertex][0]
	assert.NotNil(t, vertex.Centroid)
	assert.Nil(t, vertex.FaceBounds)
	assert.Nil(t, vertex.EdgeParams)
	assert.Equal(t, entities.ColorNotFound, vertex.ColorStatus)
}

func TestExtractor_ContinueOnError(t *testing.T) {
	boom := errors.New("kernel failure")
	oracle := newPartOracle().Fail(entities.ShapeFace, 1, OpCentroid, boom)

	result := extract(t, context.Background(), oracle, nil, DefaultConfig())

	faces := result.Summaries[entities.ShapeFace]
	require.Len(t, faces, 3)
	assert.NotNil(t, faces[0].Centroid)
	assert.Nil(t, faces[1].Centroid)
	assert.NotNil(t, faces[1].FaceBounds, "other fields of the failed element are still evaluated")
	assert.NotNil(t, faces[2].Centroid)

	assert.Equal(t, entities.KindStats{Total: 3, Failed: 1}, result.Stats[entities.ShapeFace])
	assert.Equal(t, entities.KindStats{Total: 2, Failed: 0}, result.Stats[entities.ShapeEdge])

	require.Len(t, result.Errors, 1)
	geomErr := result.Errors[0]
	assert.Equal(t, entities.ShapeFace, geomErr.Kind)
	assert.Equal(t, 2, geomErr.Index)
	assert.Equal(t, OpCentroid, geomErr.Op)
	assert.Equal(t, "kernel failure", geomErr.Reason)
	assert.ErrorIs(t, geomErr, entities.ErrOracleFailure)
	assert.ErrorIs(t, geomErr, boom)
}

func TestExtractor_Panic(t *testing.T) {
	oracle := newPartOracle().Panic(entities.ShapeEdge, 0, OpEdgeParams)

	result := extract(t, context.Background(), oracle, nil, DefaultConfig())

	edges := result.Summaries[entities.ShapeEdge]
	require.Len(t, edges, 2)
	assert.Nil(t, edges[0].EdgeParams)
	assert.NotNil(t, edges[0].Centroid)
	assert.NotNil(t, edges[1].EdgeParams)

	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], errPanic)
	assert.Contains(t, result.Errors[0].Reason, "scripted panic")
	assert.Equal(t, 1, result.Stats[entities.ShapeEdge].Failed)
}

func TestExtractor_ElementTimeout(t *testing.T) {
	oracle := newPartOracle().Delay(entities.ShapeVertex, 0, OpCentroid, 5*time.Second)
	cfg := DefaultConfig()
	cfg.ElementTimeout = 20 * time.Millisecond

	start := time.Now()
	result := extract(t, context.Background(), oracle, nil, cfg)
	assert.Less(t, time.Since(start), 5*time.Second)

	vertices := result.Summaries[entities.ShapeVertex]
	require.Len(t, vertices, 4)
	assert.Nil(t, vertices[0].Centroid)
	assert.NotNil(t, vertices[1].Centroid)
	assert.False(t, result.Truncated, "a slow call is not a cancellation")

	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], context.DeadlineExceeded)
}

func TestExtractor_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	oracle := newPartOracle()
	oracle.OnYield = func(kind entities.ShapeKind, position int) {
		if kind == entities.ShapeFace && position == 2 {
			cancel()
		}
	}
	cfg := DefaultConfig()
	cfg.Parallel = false

	result := extract(t, ctx, oracle, nil, cfg)

	assert.True(t, result.Truncated)
	assert.Len(t, result.Summaries[entities.ShapeEdge], 2)
	assert.Len(t, result.Summaries[entities.ShapeFace], 2)
	assert.Empty(t, result.Summaries[entities.ShapeSolid])
	assert.Empty(t, result.Summaries[entities.ShapeVertex])
	assert.Equal(t, 2, result.Stats[entities.ShapeFace].Total)
}

func TestExtractor_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := extract(t, ctx, newPartOracle(), nil, DefaultConfig())

	assert.True(t, result.Truncated)
	assert.Zero(t, result.Count())
}

func TestExtractor_IterateFailure(t *testing.T) {
	oracle := newPartOracle().Fail(entities.ShapeFace, 1, OpIterate, errors.New("bad face"))

	result := extract(t, context.Background(), oracle, nil, DefaultConfig())

	faces := result.Summaries[entities.ShapeFace]
	require.Len(t, faces, 2)
	assert.Equal(t, []string{"Face-1"}, faces[0].Labels)
	assert.Equal(t, []string{"Face-3"}, faces[1].Labels)
	assert.Equal(t, 2, faces[1].SequenceIndex)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, -1, result.Errors[0].Index)
	assert.Equal(t, OpIterate, result.Errors[0].Op)
}

func TestExtractor_OrderAndIndexBase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KindOrder = []entities.ShapeKind{entities.ShapeVertex, entities.ShapeSolid}
	cfg.IndexBase = 0

	result := extract(t, context.Background(), newPartOracle(), nil, cfg)

	assert.Equal(t, cfg.KindOrder, result.Order)
	assert.Equal(t, 5, result.Count())
	assert.NotContains(t, result.Summaries, entities.ShapeFace)

	first := true
	for s := range result.All() {
		if first {
			assert.Equal(t, entities.ShapeVertex, s.Kind)
			assert.Equal(t, 0, s.SequenceIndex)
			first = false
		}
	}
	assert.Equal(t, 0, result.Summaries[entities.ShapeSolid][0].SequenceIndex)
}

func TestExtractor_ParallelMatchesSequential(t *testing.T) {
	oracle := newPartOracle().Fail(entities.ShapeEdge, 1, OpCentroid, errors.New("x"))

	parallel := DefaultConfig()
	sequential := DefaultConfig()
	sequential.Parallel = false

	a := extract(t, context.Background(), oracle, nil, parallel)
	b := extract(t, context.Background(), oracle, nil, sequential)

	assert.Equal(t, a.Stats, b.Stats)
	assert.Equal(t, a.Errors, b.Errors)
	assert.Equal(t, a.Summaries, b.Summaries)
}

func TestExtractor_Colors(t *testing.T) {
	colors := staticColors{"Face-2": {R: 1}}

	result := extract(t, context.Background(), newPartOracle(), colors, DefaultConfig())

	faces := result.Summaries[entities.ShapeFace]
	assert.Equal(t, entities.ColorNotFound, faces[0].ColorStatus)
	assert.Nil(t, faces[0].Color)
	assert.Equal(t, entities.ColorFound, faces[1].ColorStatus)
	require.NotNil(t, faces[1].Color)
	assert.Equal(t, entities.RGB{R: 1}, *faces[1].Color)
}

func TestNewExtractor_Validation(t *testing.T) {
	_, err := NewExtractor(nil, nil, DefaultConfig(), nil)
	assert.Error(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty order", func(c *Config) { c.KindOrder = nil }},
		{"duplicate kind", func(c *Config) { c.KindOrder = []entities.ShapeKind{entities.ShapeFace, entities.ShapeFace} }},
		{"unknown kind", func(c *Config) { c.KindOrder = []entities.ShapeKind{entities.ShapeUnknown} }},
		{"index base", func(c *Config) { c.IndexBase = 2 }},
		{"negative timeout", func(c *Config) { c.ElementTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewExtractor(NewMockOracle(), nil, cfg, nil)
			assert.Error(t, err)
		})
	}
}
