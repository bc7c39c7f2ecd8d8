package entities

import (
	"strconv"
)

// RecordType is the Type column of an output record
type RecordType string

const (
	RecordEntity RecordType = "Entity"
	RecordFace   RecordType = "Face"
	RecordEdge   RecordType = "Edge"
	RecordSolid  RecordType = "Solid"
	RecordVertex RecordType = "Vertex"
)

// RecordTypeForKind maps a shape kind to its record type
func RecordTypeForKind(kind ShapeKind) (RecordType, bool) {
	switch kind {
	case ShapeFace:
		return RecordFace, true
	case ShapeEdge:
		return RecordEdge, true
	case ShapeSolid:
		return RecordSolid, true
	case ShapeVertex:
		return RecordVertex, true
	default:
		return "", false
	}
}

// RecordColumns is the column order of the tabular output. Color and
// Attributes are trailing extensions.
var RecordColumns = []string{
	"Type", "ID", "X", "Y", "Z", "Surface/Curve",
	"Umin", "Umax", "Vmin", "Vmax",
	"Color", "Attributes",
}

// OutputRecord is one row of the tabular output. Nil numeric fields are
// not applicable and render as empty cells.
type OutputRecord struct {
	Type RecordType
	// ID is the entity id for Entity rows and the sequence index otherwise
	ID           int64
	X, Y, Z      *float64
	SurfaceCurve string
	UMin, UMax   *float64
	VMin, VMax   *float64
	Color        string
	Attributes   string
}

// Row renders the record as cells in RecordColumns order
func (r *OutputRecord) Row() []string {
	return []string{
		string(r.Type),
		strconv.FormatInt(r.ID, 10),
		formatCell(r.X),
		formatCell(r.Y),
		formatCell(r.Z),
		r.SurfaceCurve,
		formatCell(r.UMin),
		formatCell(r.UMax),
		formatCell(r.VMin),
		formatCell(r.VMax),
		r.Color,
		r.Attributes,
	}
}

func formatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
