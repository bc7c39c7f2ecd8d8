package entities

import (
	"fmt"
	"strings"
)

// ShapeKind is a topological element kind
type ShapeKind int

const (
	ShapeUnknown ShapeKind = iota
	ShapeSolid
	ShapeFace
	ShapeEdge
	ShapeVertex
)

// DefaultKindOrder is the grouping order of the reference extraction
// convention: edges, faces, solids, vertices
var DefaultKindOrder = []ShapeKind{ShapeEdge, ShapeFace, ShapeSolid, ShapeVertex}

func (k ShapeKind) String() string {
	switch k {
	case ShapeSolid:
		return "Solid"
	case ShapeFace:
		return "Face"
	case ShapeEdge:
		return "Edge"
	case ShapeVertex:
		return "Vertex"
	default:
		return "Unknown"
	}
}

// ParseShapeKind parses a kind name, case-insensitively
func ParseShapeKind(s string) (ShapeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "solid", "solids":
		return ShapeSolid, nil
	case "face", "faces":
		return ShapeFace, nil
	case "edge", "edges":
		return ShapeEdge, nil
	case "vertex", "vertices":
		return ShapeVertex, nil
	default:
		return ShapeUnknown, fmt.Errorf("unknown shape kind: %q", s)
	}
}

// ParseKindOrder parses a comma-separated kind list. Each kind may appear
// at most once.
func ParseKindOrder(s string) ([]ShapeKind, error) {
	parts := strings.Split(s, ",")
	order := make([]ShapeKind, 0, len(parts))
	seen := make(map[ShapeKind]bool)
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		kind, err := ParseShapeKind(part)
		if err != nil {
			return nil, err
		}
		if seen[kind] {
			return nil, fmt.Errorf("shape kind %s listed twice", kind)
		}
		seen[kind] = true
		order = append(order, kind)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("kind order is empty")
	}
	return order, nil
}

// Vec3 is a point or vector in model space
type Vec3 struct {
	X, Y, Z float64
}

// RGB is a color with components in [0,1]
type RGB struct {
	R, G, B float64
}

func (c RGB) String() string {
	return fmt.Sprintf("%g %g %g", c.R, c.G, c.B)
}

// FaceBounds is the parametric extent of a face
type FaceBounds struct {
	UMin, UMax, VMin, VMax float64
}

// EdgeParams is the parameter range of an edge on its curve
type EdgeParams struct {
	First, Last float64
}

// ColorKind mirrors the color assignment categories of CAD documents
type ColorKind int

const (
	ColorGeneric ColorKind = iota
	ColorSurface
	ColorCurve
)

func (k ColorKind) String() string {
	switch k {
	case ColorGeneric:
		return "Generic"
	case ColorSurface:
		return "Surface"
	case ColorCurve:
		return "Curve"
	default:
		return fmt.Sprintf("ColorKind(%d)", int(k))
	}
}

// ColorAssignment binds a color to a topological label
type ColorAssignment struct {
	Label string
	Kind  ColorKind
	Color RGB
}

// ColorStatus separates "no color assigned" from "colors could not be read"
type ColorStatus int

const (
	ColorNotFound ColorStatus = iota
	ColorFound
	ColorUnavailable
)

func (s ColorStatus) String() string {
	switch s {
	case ColorFound:
		return "Found"
	case ColorUnavailable:
		return "Unavailable"
	default:
		return "Not Found"
	}
}

// GeometricSummary is the derived record for one topological element
type GeometricSummary struct {
	Kind          ShapeKind
	SequenceIndex int
	Handle        uint64   // Entity id behind the element, when the oracle knows it
	Labels        []string // Topological labels used for color lookup
	Description   string   // Surface or curve type

	Centroid   *Vec3
	FaceBounds *FaceBounds // Face only
	EdgeParams *EdgeParams // Edge only

	Color       *RGB
	ColorStatus ColorStatus

	Errors []*GeometryError
}

// Failed reports whether any oracle call for the element failed
func (s *GeometricSummary) Failed() bool {
	return len(s.Errors) > 0
}

// KindStats counts elements of one kind
type KindStats struct {
	Total  int
	Failed int
}
