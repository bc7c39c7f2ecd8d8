package geometry

import (
	"context"
	"iter"

	"github.com/asakaida/stepscope/internal/entities"
)

// Oracle operation names used in GeometryError.Op
const (
	OpIterate    = "iterate"
	OpCentroid   = "centroid"
	OpFaceBounds = "face_bounds"
	OpEdgeParams = "edge_params"
	OpDescribe   = "describe"
	OpColorTable = "color_table"
)

// ElementRef identifies one topological element yielded by an Oracle
type ElementRef struct {
	Kind   entities.ShapeKind
	Handle uint64   // Oracle-specific handle
	Labels []string // Labels used for color lookup, most specific first
}

// Oracle evaluates geometric properties of the topological elements of a
// model. Implementations wrap a solid-modeling kernel or, like TableOracle,
// derive the properties from the entity table.
//
// Iterate must yield a fresh cursor on every call so that kinds can be
// traversed in parallel. An error yielded by Iterate is a kind-level failure;
// iteration may continue after it.
type Oracle interface {
	Iterate(ctx context.Context, kind entities.ShapeKind) iter.Seq2[ElementRef, error]
	FaceBounds(ctx context.Context, ref ElementRef) (entities.FaceBounds, error)
	EdgeParams(ctx context.Context, ref ElementRef) (entities.EdgeParams, error)
	Centroid(ctx context.Context, ref ElementRef) (entities.Vec3, error)
	ColorTable(ctx context.Context) ([]entities.ColorAssignment, error)
}

// Describer names the surface or curve type underlying an element
type Describer interface {
	Describe(ctx context.Context, ref ElementRef) (string, error)
}

// ColorLookup returns the color of an element from its labels
type ColorLookup interface {
	Lookup(labels []string) (*entities.RGB, entities.ColorStatus)
}
