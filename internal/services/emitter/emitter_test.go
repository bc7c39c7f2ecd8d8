package emitter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/services/color"
	"github.com/asakaida/stepscope/internal/services/filter"
	"github.com/asakaida/stepscope/internal/services/geometry"
)

func newTable(t *testing.T) *entities.EntityTable {
	t.Helper()
	table := entities.NewEntityTable()
	for _, e := range []*entities.Entity{
		{ID: 20, Groups: []entities.Group{{TypeName: "CARTESIAN_POINT", Attributes: []entities.AttributeValue{
			entities.StringValue(""), entities.ListValue(entities.RealValue(0), entities.RealValue(0), entities.RealValue(1)),
		}}}},
		{ID: 10, Groups: []entities.Group{{TypeName: "VERTEX_POINT", Attributes: []entities.AttributeValue{
			entities.StringValue(""), entities.RefValue(20),
		}}}},
	} {
		require.Nil(t, table.Add(e))
	}
	return table
}

func newExtraction(t *testing.T) *geometry.Extraction {
	t.Helper()
	oracle := geometry.NewMockOracle().
		WithCount(entities.ShapeFace, 2).
		WithCount(entities.ShapeEdge, 1).
		WithCount(entities.ShapeVertex, 1).
		Fail(entities.ShapeFace, 1, geometry.OpFaceBounds, errors.New("no bounds"))
	colors := color.Build([]entities.ColorAssignment{
		{Label: "Face-1", Kind: entities.ColorGeneric, Color: entities.RGB{R: 1, G: 0.5}},
	})
	x, err := geometry.NewExtractor(oracle, colors, geometry.DefaultConfig(), nil)
	require.NoError(t, err)
	return x.Extract(context.Background())
}

func types(records []*entities.OutputRecord) []entities.RecordType {
	var result []entities.RecordType
	for _, r := range records {
		result = append(result, r.Type)
	}
	return result
}

func TestEmitter_Order(t *testing.T) {
	e := New(Options{IncludeEntities: true}, nil)
	records := e.Emit(newTable(t), newExtraction(t))

	require.Len(t, records, 6)
	assert.Equal(t, []entities.RecordType{
		entities.RecordEntity, entities.RecordEntity,
		entities.RecordEdge,
		entities.RecordFace, entities.RecordFace,
		entities.RecordVertex,
	}, types(records))

	// Entity rows keep file order, not id order
	assert.Equal(t, int64(20), records[0].ID)
	assert.Equal(t, int64(10), records[1].ID)
	assert.Equal(t, int64(1), records[3].ID)
	assert.Equal(t, int64(2), records[4].ID)
}

func TestEmitter_EntityRows(t *testing.T) {
	e := New(Options{IncludeEntities: true}, nil)
	records := e.Emit(newTable(t), nil)

	require.Len(t, records, 2)
	point := records[0]
	assert.Equal(t, "CARTESIAN_POINT", point.SurfaceCurve)
	assert.Equal(t, "('',(0.,0.,1.))", point.Attributes)
	assert.Nil(t, point.X)
	assert.Nil(t, point.UMin)
	assert.Equal(t, []string{"Entity", "20", "", "", "", "CARTESIAN_POINT", "", "", "", "", "", "('',(0.,0.,1.))"}, point.Row())

	truncated := New(Options{IncludeEntities: true, AttributeMaxLength: 4}, nil).Emit(newTable(t), nil)
	assert.Equal(t, "('',...", truncated[0].Attributes)
}

func TestEmitter_ExcludeEntities(t *testing.T) {
	records := New(Options{}, nil).Emit(newTable(t), newExtraction(t))
	assert.Len(t, records, 4)
	assert.NotContains(t, types(records), entities.RecordEntity)
}

func TestEmitter_GeometryRows(t *testing.T) {
	records := New(Options{}, nil).Emit(nil, newExtraction(t))
	require.Len(t, records, 4)

	edge := records[0]
	assert.Equal(t, entities.RecordEdge, edge.Type)
	require.NotNil(t, edge.UMin)
	assert.Equal(t, 0.0, *edge.UMin)
	assert.Equal(t, 1.0, *edge.UMax)
	assert.Nil(t, edge.VMin, "edges have no v range")
	assert.Equal(t, "MOCK_Edge", edge.SurfaceCurve)
	assert.Equal(t, "Not Found", edge.Color)

	colored := records[1]
	assert.Equal(t, "1 0.5 0", colored.Color)
	require.NotNil(t, colored.VMax)
	assert.Equal(t, 1.0, *colored.VMax)

	failed := records[2]
	assert.Nil(t, failed.UMin, "failed bounds stay empty, never zero")
	assert.Equal(t, []string{"Face", "2", "1", "0", "0", "MOCK_Face", "", "", "", "", "Not Found", ""}, failed.Row())

	vertex := records[3]
	assert.Nil(t, vertex.UMin)
	require.NotNil(t, vertex.X)
}

func TestEmitter_Filter(t *testing.T) {
	f, err := filter.New(`record.type == "Face" || record.id == 10`)
	require.NoError(t, err)

	records := New(Options{IncludeEntities: true, Filter: f}, nil).Emit(newTable(t), newExtraction(t))
	assert.Equal(t, []entities.RecordType{entities.RecordEntity, entities.RecordFace, entities.RecordFace}, types(records))
}

func TestEmitter_ProducerRestartable(t *testing.T) {
	producer := New(Options{IncludeEntities: true}, nil).Producer(newTable(t), newExtraction(t))

	count := func() int {
		n := 0
		for range producer {
			n++
		}
		return n
	}
	assert.Equal(t, 6, count())
	assert.Equal(t, 6, count())

	// Early stop
	n := 0
	for range producer {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestColorCell(t *testing.T) {
	assert.Equal(t, "0.2 0.4 0.6", ColorCell(&entities.RGB{R: 0.2, G: 0.4, B: 0.6}, entities.ColorFound))
	assert.Equal(t, "Not Found", ColorCell(nil, entities.ColorNotFound))
	assert.Equal(t, "Unavailable", ColorCell(nil, entities.ColorUnavailable))
}
