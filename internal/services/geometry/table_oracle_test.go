package geometry

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/services/parser"
	"github.com/asakaida/stepscope/internal/services/resolver"
)

const delta = 1e-9

func loadPlate(t *testing.T) (*TableOracle, *resolver.Resolver) {
	t.Helper()
	data, err := os.ReadFile("testdata/plate.stp")
	require.NoError(t, err)

	file, err := parser.NewParser(parser.NewLexer(string(data))).Parse()
	require.NoError(t, err)
	require.Empty(t, file.Errors)

	table, errs := parser.ASTToTable(file)
	require.Empty(t, errs)

	res := resolver.New(table)
	return NewTableOracle(table, res), res
}

func collect(t *testing.T, o Oracle, kind entities.ShapeKind) []ElementRef {
	t.Helper()
	var refs []ElementRef
	for ref, err := range o.Iterate(context.Background(), kind) {
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	return refs
}

func ref(kind entities.ShapeKind, id uint64) ElementRef {
	return ElementRef{Kind: kind, Handle: id}
}

func assertVec(t *testing.T, want, got entities.Vec3) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, delta, "x")
	assert.InDelta(t, want.Y, got.Y, delta, "y")
	assert.InDelta(t, want.Z, got.Z, delta, "z")
}

func TestTableOracle_Iterate(t *testing.T) {
	o, res := loadPlate(t)

	handles := func(refs []ElementRef) []uint64 {
		var ids []uint64
		for _, r := range refs {
			ids = append(ids, r.Handle)
		}
		return ids
	}

	assert.Equal(t, []uint64{32}, handles(collect(t, o, entities.ShapeSolid)))
	assert.Equal(t, []uint64{30, 39}, handles(collect(t, o, entities.ShapeFace)))
	assert.Equal(t, []uint64{18, 19, 20, 21, 34, 53}, handles(collect(t, o, entities.ShapeEdge)))
	assert.Equal(t, []uint64{5, 6, 7, 8}, handles(collect(t, o, entities.ShapeVertex)))

	faces := collect(t, o, entities.ShapeFace)
	assert.Equal(t, []string{"#30", "#32"}, faces[0].Labels, "faces carry their solid's label")
	assert.Equal(t, []string{"#39"}, faces[1].Labels)
	assert.Empty(t, res.Errors())
}

func TestTableOracle_IterateUnknownKind(t *testing.T) {
	o, _ := loadPlate(t)
	var errs int
	for _, err := range o.Iterate(context.Background(), entities.ShapeUnknown) {
		assert.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}

func TestTableOracle_Centroid(t *testing.T) {
	o, _ := loadPlate(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ref  ElementRef
		want entities.Vec3
	}{
		{"vertex", ref(entities.ShapeVertex, 7), entities.Vec3{X: 1, Y: 1}},
		{"line edge", ref(entities.ShapeEdge, 18), entities.Vec3{X: 0.5}},
		{"reversed line edge", ref(entities.ShapeEdge, 20), entities.Vec3{X: 0.5, Y: 1}},
		{"quarter circle", ref(entities.ShapeEdge, 34), entities.Vec3{X: 2 / math.Pi, Y: 2 / math.Pi}},
		{"polyline edge", ref(entities.ShapeEdge, 53), entities.Vec3{X: 0.5, Y: 0.5}},
		{"planar face", ref(entities.ShapeFace, 30), entities.Vec3{X: 0.5, Y: 0.5}},
		{"solid", ref(entities.ShapeSolid, 32), entities.Vec3{X: 0.5, Y: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := o.Centroid(ctx, tt.ref)
			require.NoError(t, err)
			assertVec(t, tt.want, got)
		})
	}
}

func TestTableOracle_EdgeParams(t *testing.T) {
	o, _ := loadPlate(t)
	ctx := context.Background()

	params, err := o.EdgeParams(ctx, ref(entities.ShapeEdge, 19))
	require.NoError(t, err)
	assert.InDelta(t, 0, params.First, delta)
	assert.InDelta(t, 1, params.Last, delta)

	// same_sense .F. runs the edge against its curve
	params, err = o.EdgeParams(ctx, ref(entities.ShapeEdge, 20))
	require.NoError(t, err)
	assert.InDelta(t, 0, params.First, delta)
	assert.InDelta(t, 1, params.Last, delta)

	params, err = o.EdgeParams(ctx, ref(entities.ShapeEdge, 34))
	require.NoError(t, err)
	assert.InDelta(t, 0, params.First, delta)
	assert.InDelta(t, math.Pi/2, params.Last, delta)

	_, err = o.EdgeParams(ctx, ref(entities.ShapeEdge, 53))
	assert.ErrorContains(t, err, "unsupported curve POLYLINE")
}

func TestTableOracle_FaceBounds(t *testing.T) {
	o, _ := loadPlate(t)
	ctx := context.Background()

	plane, err := o.FaceBounds(ctx, ref(entities.ShapeFace, 30))
	require.NoError(t, err)
	assert.InDelta(t, 0, plane.UMin, delta)
	assert.InDelta(t, 1, plane.UMax, delta)
	assert.InDelta(t, 0, plane.VMin, delta)
	assert.InDelta(t, 1, plane.VMax, delta)

	cylinder, err := o.FaceBounds(ctx, ref(entities.ShapeFace, 39))
	require.NoError(t, err)
	assert.InDelta(t, 0, cylinder.UMin, delta)
	assert.InDelta(t, math.Pi/2, cylinder.UMax, delta)
	assert.InDelta(t, 0, cylinder.VMin, delta)
	assert.InDelta(t, 0, cylinder.VMax, delta)
}

func TestTableOracle_Describe(t *testing.T) {
	o, _ := loadPlate(t)
	ctx := context.Background()

	tests := []struct {
		ref  ElementRef
		want string
	}{
		{ref(entities.ShapeFace, 30), "PLANE"},
		{ref(entities.ShapeFace, 39), "CYLINDRICAL_SURFACE"},
		{ref(entities.ShapeEdge, 34), "CIRCLE"},
		{ref(entities.ShapeEdge, 53), "POLYLINE"},
		{ref(entities.ShapeSolid, 32), "MANIFOLD_SOLID_BREP"},
		{ref(entities.ShapeVertex, 5), ""},
	}
	for _, tt := range tests {
		got, err := o.Describe(ctx, tt.ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTableOracle_WrongKind(t *testing.T) {
	o, _ := loadPlate(t)
	_, err := o.Centroid(context.Background(), ref(entities.ShapeFace, 18))
	assert.ErrorContains(t, err, "not a Face")

	_, err = o.Centroid(context.Background(), ref(entities.ShapeVertex, 999))
	assert.ErrorContains(t, err, "no entity #999")
}

func TestTableOracle_ColorTable(t *testing.T) {
	o, _ := loadPlate(t)

	colors, err := o.ColorTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []entities.ColorAssignment{
		{Label: "#32", Kind: entities.ColorGeneric, Color: entities.RGB{R: 1}},
		{Label: "#18", Kind: entities.ColorCurve, Color: entities.RGB{B: 1}},
	}, colors)
}

func TestTableOracle_DanglingReference(t *testing.T) {
	table := entities.NewEntityTable()
	require.Nil(t, table.Add(&entities.Entity{ID: 1, Groups: []entities.Group{{
		TypeName:   "VERTEX_POINT",
		Attributes: []entities.AttributeValue{entities.StringValue(""), entities.RefValue(42)},
	}}}))
	res := resolver.New(table)
	o := NewTableOracle(table, res)

	_, err := o.Centroid(context.Background(), ref(entities.ShapeVertex, 1))
	var refErr *entities.ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, entities.DanglingReference, refErr.Kind)
	assert.Len(t, res.Errors(), 1)
}

func TestTableOracle_Extraction(t *testing.T) {
	o, _ := loadPlate(t)

	result := extract(t, context.Background(), o, nil, DefaultConfig())

	assert.Equal(t, entities.KindStats{Total: 6, Failed: 1}, result.Stats[entities.ShapeEdge])
	assert.Equal(t, entities.KindStats{Total: 2, Failed: 0}, result.Stats[entities.ShapeFace])
	assert.Equal(t, entities.KindStats{Total: 1, Failed: 0}, result.Stats[entities.ShapeSolid])
	assert.Equal(t, entities.KindStats{Total: 4, Failed: 0}, result.Stats[entities.ShapeVertex])

	require.Len(t, result.Errors, 1)
	assert.Equal(t, OpEdgeParams, result.Errors[0].Op)
	assert.Equal(t, 6, result.Errors[0].Index)

	polyline := result.Summaries[entities.ShapeEdge][5]
	assert.Equal(t, uint64(53), polyline.Handle)
	assert.Nil(t, polyline.EdgeParams)
	assert.NotNil(t, polyline.Centroid)
}
