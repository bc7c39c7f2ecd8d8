package geometry

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/services/resolver"
)

// kindTypes maps each kind to the entity types that make up its elements
var kindTypes = map[entities.ShapeKind][]string{
	entities.ShapeSolid:  {"MANIFOLD_SOLID_BREP", "BREP_WITH_VOIDS", "FACETED_BREP"},
	entities.ShapeFace:   {"ADVANCED_FACE", "FACE_SURFACE"},
	entities.ShapeEdge:   {"EDGE_CURVE"},
	entities.ShapeVertex: {"VERTEX_POINT"},
}

// topologyTypes are expanded when collecting the vertices of a face or solid
var topologyTypes = map[string]bool{
	"MANIFOLD_SOLID_BREP":   true,
	"BREP_WITH_VOIDS":       true,
	"FACETED_BREP":          true,
	"CLOSED_SHELL":          true,
	"OPEN_SHELL":            true,
	"ORIENTED_CLOSED_SHELL": true,
	"ADVANCED_FACE":         true,
	"FACE_SURFACE":          true,
	"FACE_OUTER_BOUND":      true,
	"FACE_BOUND":            true,
	"EDGE_LOOP":             true,
	"ORIENTED_EDGE":         true,
	"EDGE_CURVE":            true,
}

// predefinedColors are the colors of DRAUGHTING_PRE_DEFINED_COLOUR
var predefinedColors = map[string]entities.RGB{
	"red":     {R: 1},
	"green":   {G: 1},
	"blue":    {B: 1},
	"yellow":  {R: 1, G: 1},
	"magenta": {R: 1, B: 1},
	"cyan":    {G: 1, B: 1},
	"black":   {},
	"white":   {R: 1, G: 1, B: 1},
}

// TableOracle derives element properties from the entity table itself.
// Centroids of faces and solids are the mean of their distinct vertices;
// vertices and straight edges are exact and circular edges use the arc
// centroid. Edge parameters and face bounds are supported for lines,
// circles, planes and cylinders.
type TableOracle struct {
	table    *entities.EntityTable
	resolver *resolver.Resolver

	ownersOnce sync.Once
	owners     map[uint64][]string // face id -> labels of owning solids
}

// NewTableOracle creates an oracle over table. References are followed
// through res so that dangling and cyclic references are recorded there.
func NewTableOracle(table *entities.EntityTable, res *resolver.Resolver) *TableOracle {
	if res == nil {
		res = resolver.New(table)
	}
	return &TableOracle{table: table, resolver: res}
}

func label(id uint64) string {
	return fmt.Sprintf("#%d", id)
}

// Iterate yields the elements of kind in file order
func (o *TableOracle) Iterate(ctx context.Context, kind entities.ShapeKind) iter.Seq2[ElementRef, error] {
	return func(yield func(ElementRef, error) bool) {
		types, ok := kindTypes[kind]
		if !ok {
			yield(ElementRef{}, fmt.Errorf("unsupported shape kind %s", kind))
			return
		}
		for _, e := range o.table.ByType(types...) {
			if ctx.Err() != nil {
				return
			}
			labels := []string{label(e.ID)}
			if kind == entities.ShapeFace {
				labels = append(labels, o.faceOwners()[e.ID]...)
			}
			if !yield(ElementRef{Kind: kind, Handle: e.ID, Labels: labels}, nil) {
				return
			}
		}
	}
}

// faceOwners builds the face to solid index on first use
func (o *TableOracle) faceOwners() map[uint64][]string {
	o.ownersOnce.Do(func() {
		o.owners = make(map[uint64][]string)
		for _, solid := range o.table.ByType(kindTypes[entities.ShapeSolid]...) {
			_ = o.resolver.Walk(solid.ID, func(e *entities.Entity, _ []uint64) resolver.WalkAction {
				if hasAnyType(e, kindTypes[entities.ShapeFace]) {
					o.owners[e.ID] = append(o.owners[e.ID], label(solid.ID))
					return resolver.SkipChildren
				}
				if e.ID != solid.ID && !isTopology(e) {
					return resolver.SkipChildren
				}
				return resolver.Continue
			})
		}
	})
	return o.owners
}

// element returns the entity behind ref and checks its kind
func (o *TableOracle) element(ref ElementRef) (*entities.Entity, error) {
	e, ok := o.table.Get(ref.Handle)
	if !ok {
		return nil, fmt.Errorf("no entity #%d", ref.Handle)
	}
	if !hasAnyType(e, kindTypes[ref.Kind]) {
		return nil, fmt.Errorf("#%d is %s, not a %s", e.ID, e.TypeName(), ref.Kind)
	}
	return e, nil
}

// Centroid returns the centroid of the element
func (o *TableOracle) Centroid(ctx context.Context, ref ElementRef) (entities.Vec3, error) {
	e, err := o.element(ref)
	if err != nil {
		return entities.Vec3{}, err
	}

	switch ref.Kind {
	case entities.ShapeVertex:
		return o.vertexPoint(e)
	case entities.ShapeEdge:
		edge, err := o.edge(e)
		if err != nil {
			return entities.Vec3{}, err
		}
		if edge.circle != nil {
			return arcCentroid(edge.circle.frame, edge.circle.radius, edge.first, edge.last-edge.first), nil
		}
		return scale(add(edge.start, edge.end), 0.5), nil
	default:
		points, err := o.boundaryPoints(ctx, e, false)
		if err != nil {
			return entities.Vec3{}, err
		}
		return average(points), nil
	}
}

// EdgeParams returns the parameter range of an edge on its curve: arc
// length along a line, angle in radians on a circle
func (o *TableOracle) EdgeParams(ctx context.Context, ref ElementRef) (entities.EdgeParams, error) {
	e, err := o.element(ref)
	if err != nil {
		return entities.EdgeParams{}, err
	}
	edge, err := o.edge(e)
	if err != nil {
		return entities.EdgeParams{}, err
	}
	if !edge.parametric {
		return entities.EdgeParams{}, fmt.Errorf("unsupported curve %s", edge.curveType)
	}
	return entities.EdgeParams{First: edge.first, Last: edge.last}, nil
}

// FaceBounds returns the UV extents of a face on its surface
func (o *TableOracle) FaceBounds(ctx context.Context, ref ElementRef) (entities.FaceBounds, error) {
	e, err := o.element(ref)
	if err != nil {
		return entities.FaceBounds{}, err
	}
	surface, err := o.ref(e, 2)
	if err != nil {
		return entities.FaceBounds{}, err
	}
	samples, err := o.boundaryPoints(ctx, e, true)
	if err != nil {
		return entities.FaceBounds{}, err
	}

	switch {
	case surface.HasType("PLANE"):
		f, err := o.placementOf(surface)
		if err != nil {
			return entities.FaceBounds{}, err
		}
		bounds := entities.FaceBounds{
			UMin: math.Inf(1), UMax: math.Inf(-1),
			VMin: math.Inf(1), VMax: math.Inf(-1),
		}
		for _, p := range samples {
			l := f.local(p)
			bounds.UMin, bounds.UMax = math.Min(bounds.UMin, l.X), math.Max(bounds.UMax, l.X)
			bounds.VMin, bounds.VMax = math.Min(bounds.VMin, l.Y), math.Max(bounds.VMax, l.Y)
		}
		return bounds, nil
	case surface.HasType("CYLINDRICAL_SURFACE"):
		f, err := o.placementOf(surface)
		if err != nil {
			return entities.FaceBounds{}, err
		}
		angles := make([]float64, 0, len(samples))
		vmin, vmax := math.Inf(1), math.Inf(-1)
		for _, p := range samples {
			angles = append(angles, f.angle(p))
			z := f.local(p).Z
			vmin, vmax = math.Min(vmin, z), math.Max(vmax, z)
		}
		umin, umax := angularCoverage(angles)
		return entities.FaceBounds{UMin: umin, UMax: umax, VMin: vmin, VMax: vmax}, nil
	default:
		return entities.FaceBounds{}, fmt.Errorf("unsupported surface %s", surface.TypeName())
	}
}

// Describe names the surface of a face, the curve of an edge or the type of
// a solid
func (o *TableOracle) Describe(ctx context.Context, ref ElementRef) (string, error) {
	e, err := o.element(ref)
	if err != nil {
		return "", err
	}
	switch ref.Kind {
	case entities.ShapeFace:
		surface, err := o.ref(e, 2)
		if err != nil {
			return "", err
		}
		return surface.TypeName(), nil
	case entities.ShapeEdge:
		curve, err := o.curveOf(e)
		if err != nil {
			return "", err
		}
		return curve.TypeName(), nil
	case entities.ShapeSolid:
		return e.TypeName(), nil
	default:
		return "", nil
	}
}

// ColorTable collects the colors of every styled item in file order
func (o *TableOracle) ColorTable(ctx context.Context) ([]entities.ColorAssignment, error) {
	var assignments []entities.ColorAssignment
	for _, styled := range o.table.ByType("STYLED_ITEM", "OVER_RIDING_STYLED_ITEM") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		group := styled.Group("STYLED_ITEM")
		if group == nil {
			group = styled.Group("OVER_RIDING_STYLED_ITEM")
		}
		if len(group.Attributes) < 3 || !group.Attributes[2].IsReference() {
			continue
		}
		item := label(group.Attributes[2].Ref)

		for _, styleID := range group.Attributes[1].References() {
			err := o.resolver.Walk(styleID, func(e *entities.Entity, path []uint64) resolver.WalkAction {
				c, ok := o.colorOf(e)
				if !ok {
					return resolver.Continue
				}
				assignments = append(assignments, entities.ColorAssignment{
					Label: item,
					Kind:  o.colorKind(path),
					Color: c,
				})
				return resolver.SkipChildren
			})
			if err != nil {
				return nil, fmt.Errorf("failed to read style of #%d: %w", styled.ID, err)
			}
		}
	}
	return assignments, nil
}

// colorOf reads a color entity
func (o *TableOracle) colorOf(e *entities.Entity) (entities.RGB, bool) {
	if g := e.Group("COLOUR_RGB"); g != nil && len(g.Attributes) >= 4 {
		r, okR := g.Attributes[1].Float()
		gr, okG := g.Attributes[2].Float()
		b, okB := g.Attributes[3].Float()
		if okR && okG && okB {
			return entities.RGB{R: r, G: gr, B: b}, true
		}
		return entities.RGB{}, false
	}
	if g := e.Group("DRAUGHTING_PRE_DEFINED_COLOUR"); g != nil && len(g.Attributes) >= 1 {
		c, ok := predefinedColors[strings.ToLower(g.Attributes[0].Text)]
		return c, ok
	}
	return entities.RGB{}, false
}

// colorKind classifies a color by the styles on its path
func (o *TableOracle) colorKind(path []uint64) entities.ColorKind {
	for _, id := range path {
		e, ok := o.table.Get(id)
		if !ok {
			continue
		}
		if e.HasType("CURVE_STYLE") {
			return entities.ColorCurve
		}
		if g := e.Group("SURFACE_STYLE_USAGE"); g != nil && len(g.Attributes) > 0 {
			switch g.Attributes[0].Text {
			case "POSITIVE", "NEGATIVE":
				return entities.ColorSurface
			}
		}
	}
	return entities.ColorGeneric
}

// ref resolves attribute i of e
func (o *TableOracle) ref(e *entities.Entity, i int) (*entities.Entity, error) {
	attr, ok := e.Attribute(i)
	if !ok {
		return nil, fmt.Errorf("#%d has no attribute %d", e.ID, i+1)
	}
	return o.resolver.Resolve(e.ID, attr)
}

// coordinates reads the coordinate list at attribute 1 of a point or
// direction; missing coordinates are zero
func coordinates(e *entities.Entity, typeName string) (entities.Vec3, error) {
	g := e.Group(typeName)
	if g == nil {
		return entities.Vec3{}, fmt.Errorf("#%d is %s, not a %s", e.ID, e.TypeName(), typeName)
	}
	if len(g.Attributes) < 2 || g.Attributes[1].Kind != entities.AttributeList {
		return entities.Vec3{}, fmt.Errorf("#%d has no coordinate list", e.ID)
	}
	var c [3]float64
	for i, item := range g.Attributes[1].Items {
		if i >= 3 {
			break
		}
		v, ok := item.Float()
		if !ok {
			return entities.Vec3{}, fmt.Errorf("#%d coordinate %d is not a number", e.ID, i+1)
		}
		c[i] = v
	}
	return entities.Vec3{X: c[0], Y: c[1], Z: c[2]}, nil
}

// point resolves attribute i of e to a cartesian point
func (o *TableOracle) point(e *entities.Entity, i int) (entities.Vec3, error) {
	p, err := o.ref(e, i)
	if err != nil {
		return entities.Vec3{}, err
	}
	return coordinates(p, "CARTESIAN_POINT")
}

// vertexPoint returns the location of a VERTEX_POINT
func (o *TableOracle) vertexPoint(v *entities.Entity) (entities.Vec3, error) {
	return o.point(v, 1)
}

// placementOf reads the AXIS2_PLACEMENT_3D at attribute 1 of e. Absent
// axis and reference directions default to Z and X.
func (o *TableOracle) placementOf(e *entities.Entity) (frame, error) {
	placement, err := o.ref(e, 1)
	if err != nil {
		return frame{}, err
	}
	if !placement.HasType("AXIS2_PLACEMENT_3D") {
		return frame{}, fmt.Errorf("unsupported placement %s", placement.TypeName())
	}
	origin, err := o.point(placement, 1)
	if err != nil {
		return frame{}, err
	}
	axis, ref := entities.Vec3{Z: 1}, entities.Vec3{X: 1}
	if attr, ok := placement.Attribute(2); ok && attr.IsReference() {
		d, err := o.ref(placement, 2)
		if err != nil {
			return frame{}, err
		}
		if axis, err = coordinates(d, "DIRECTION"); err != nil {
			return frame{}, err
		}
	}
	if attr, ok := placement.Attribute(3); ok && attr.IsReference() {
		d, err := o.ref(placement, 3)
		if err != nil {
			return frame{}, err
		}
		if ref, err = coordinates(d, "DIRECTION"); err != nil {
			return frame{}, err
		}
	}
	return newFrame(origin, axis, ref), nil
}

// curveOf returns the 3D curve of an EDGE_CURVE, unwrapping surface curves
func (o *TableOracle) curveOf(edge *entities.Entity) (*entities.Entity, error) {
	curve, err := o.ref(edge, 3)
	if err != nil {
		return nil, err
	}
	for depth := 0; curve.HasType("SURFACE_CURVE") || curve.HasType("SEAM_CURVE"); depth++ {
		if depth >= resolver.MaxDepth {
			return nil, fmt.Errorf("surface curve chain too deep at #%d", curve.ID)
		}
		if curve, err = o.ref(curve, 1); err != nil {
			return nil, err
		}
	}
	return curve, nil
}

type circleGeometry struct {
	frame  frame
	radius float64
}

// edgeGeometry holds the evaluated curve data of an edge
type edgeGeometry struct {
	start, end  entities.Vec3
	curveType   string
	parametric  bool
	first, last float64
	circle      *circleGeometry
}

// edge evaluates an EDGE_CURVE. With same_sense .F. the edge runs against
// its curve, so the vertices are swapped before parametrisation.
func (o *TableOracle) edge(e *entities.Entity) (*edgeGeometry, error) {
	v1, err := o.ref(e, 1)
	if err != nil {
		return nil, err
	}
	v2, err := o.ref(e, 2)
	if err != nil {
		return nil, err
	}
	start, err := o.vertexPoint(v1)
	if err != nil {
		return nil, err
	}
	end, err := o.vertexPoint(v2)
	if err != nil {
		return nil, err
	}
	if sense, ok := e.Attribute(4); ok && sense.Kind == entities.AttributeEnumeration && sense.Text == "F" {
		start, end = end, start
	}

	curve, err := o.curveOf(e)
	if err != nil {
		return nil, err
	}
	g := &edgeGeometry{start: start, end: end, curveType: curve.TypeName()}

	switch {
	case curve.HasType("LINE"):
		origin, err := o.point(curve, 1)
		if err != nil {
			return nil, err
		}
		vector, err := o.ref(curve, 2)
		if err != nil {
			return nil, err
		}
		d, err := o.ref(vector, 1)
		if err != nil {
			return nil, err
		}
		dir, err := coordinates(d, "DIRECTION")
		if err != nil {
			return nil, err
		}
		unit, ok := normalize(dir)
		if !ok {
			return nil, fmt.Errorf("line #%d has a zero direction", curve.ID)
		}
		g.parametric = true
		g.first = dot(sub(start, origin), unit)
		g.last = dot(sub(end, origin), unit)
	case curve.HasType("CIRCLE"):
		f, err := o.placementOf(curve)
		if err != nil {
			return nil, err
		}
		radiusAttr, ok := curve.Attribute(2)
		if !ok {
			return nil, fmt.Errorf("circle #%d has no radius", curve.ID)
		}
		radius, ok := radiusAttr.Float()
		if !ok || radius <= 0 {
			return nil, fmt.Errorf("circle #%d has an invalid radius", curve.ID)
		}
		first := f.angle(start)
		last := f.angle(end)
		if last <= first+epsilon {
			last += 2 * math.Pi
		}
		g.parametric = true
		g.first, g.last = first, last
		g.circle = &circleGeometry{frame: f, radius: radius}
	}
	return g, nil
}

// boundaryPoints collects the distinct vertex locations bounding a face or
// solid. With arcs set, the midpoints of circular edges are added so that
// curved boundaries are sampled.
func (o *TableOracle) boundaryPoints(ctx context.Context, root *entities.Entity, arcs bool) ([]entities.Vec3, error) {
	var (
		points []entities.Vec3
		seen   = make(map[uint64]bool)
		failed error
	)
	addPoint := func(id uint64) {
		if seen[id] {
			return
		}
		seen[id] = true
		p, ok := o.table.Get(id)
		if !ok {
			return
		}
		c, err := coordinates(p, "CARTESIAN_POINT")
		if err != nil {
			failed = err
			return
		}
		points = append(points, c)
	}

	err := o.resolver.Walk(root.ID, func(e *entities.Entity, _ []uint64) resolver.WalkAction {
		if ctx.Err() != nil {
			failed = ctx.Err()
			return resolver.Stop
		}
		switch {
		case e.HasType("VERTEX_POINT"):
			if attr, ok := e.Attribute(1); ok && attr.IsReference() {
				if _, err := o.resolver.Resolve(e.ID, attr); err == nil {
					addPoint(attr.Ref)
				}
			}
			return resolver.SkipChildren
		case e.HasType("POLY_LOOP"):
			if attr, ok := e.Attribute(1); ok {
				for _, id := range attr.References() {
					if _, err := o.resolver.ResolveID(e.ID, id); err == nil {
						addPoint(id)
					}
				}
			}
			return resolver.SkipChildren
		case arcs && e.HasType("EDGE_CURVE"):
			if edge, err := o.edge(e); err == nil && edge.circle != nil {
				mid := (edge.first + edge.last) / 2
				points = append(points, edge.circle.frame.pointAt(mid, edge.circle.radius))
			}
			return resolver.Continue
		case isTopology(e):
			return resolver.Continue
		default:
			return resolver.SkipChildren
		}
	})
	if err != nil {
		return nil, err
	}
	if failed != nil {
		return nil, failed
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("#%d has no vertices", root.ID)
	}
	return points, nil
}

func isTopology(e *entities.Entity) bool {
	for _, g := range e.Groups {
		if topologyTypes[g.TypeName] {
			return true
		}
	}
	return false
}

func hasAnyType(e *entities.Entity, types []string) bool {
	for _, t := range types {
		if e.HasType(t) {
			return true
		}
	}
	return false
}
