package geometry

import (
	"math"
	"slices"

	"github.com/asakaida/stepscope/internal/entities"
)

func add(a, b entities.Vec3) entities.Vec3 {
	return entities.Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

func sub(a, b entities.Vec3) entities.Vec3 {
	return entities.Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

func scale(a entities.Vec3, s float64) entities.Vec3 {
	return entities.Vec3{X: a.X * s, Y: a.Y * s, Z: a.Z * s}
}

func dot(a, b entities.Vec3) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func cross(a, b entities.Vec3) entities.Vec3 {
	return entities.Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

func norm(a entities.Vec3) float64 {
	return math.Sqrt(dot(a, a))
}

// normalize returns a unit vector, or false for a zero vector
func normalize(a entities.Vec3) (entities.Vec3, bool) {
	n := norm(a)
	if n < epsilon {
		return entities.Vec3{}, false
	}
	return scale(a, 1/n), true
}

// average returns the mean of points; points must not be empty
func average(points []entities.Vec3) entities.Vec3 {
	var sum entities.Vec3
	for _, p := range points {
		sum = add(sum, p)
	}
	return scale(sum, 1/float64(len(points)))
}

// normalizeAngle maps an angle to [0, 2π)
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	if a >= 2*math.Pi-epsilon {
		a = 0
	}
	return a
}

const epsilon = 1e-12

// frame is a right-handed placement: origin plus orthonormal axes
type frame struct {
	origin  entities.Vec3
	x, y, z entities.Vec3
}

// newFrame builds a frame from an axis and a reference direction. The
// reference direction is projected onto the plane normal to the axis.
func newFrame(origin, axis, ref entities.Vec3) frame {
	z, ok := normalize(axis)
	if !ok {
		z = entities.Vec3{Z: 1}
	}
	x, ok := normalize(sub(ref, scale(z, dot(ref, z))))
	if !ok {
		// Reference parallel to the axis: pick any perpendicular
		x, _ = normalize(cross(entities.Vec3{Y: 1}, z))
		if norm(x) < epsilon {
			x, _ = normalize(cross(entities.Vec3{X: 1}, z))
		}
	}
	return frame{origin: origin, x: x, y: cross(z, x), z: z}
}

// local returns the coordinates of p in the frame
func (f frame) local(p entities.Vec3) entities.Vec3 {
	d := sub(p, f.origin)
	return entities.Vec3{X: dot(d, f.x), Y: dot(d, f.y), Z: dot(d, f.z)}
}

// angle returns the polar angle of p around the frame axis in [0, 2π)
func (f frame) angle(p entities.Vec3) float64 {
	l := f.local(p)
	return normalizeAngle(math.Atan2(l.Y, l.X))
}

// pointAt returns the point at polar angle t and radius r in the frame plane
func (f frame) pointAt(t, r float64) entities.Vec3 {
	return add(f.origin, add(scale(f.x, r*math.Cos(t)), scale(f.y, r*math.Sin(t))))
}

// arcCentroid returns the centroid of a circular arc of radius r spanning
// [start, start+span] in the frame plane
func arcCentroid(f frame, r, start, span float64) entities.Vec3 {
	half := span / 2
	if half < epsilon {
		return f.pointAt(start, r)
	}
	d := r * math.Sin(half) / half
	return f.pointAt(start+half, d)
}

// angularCoverage returns the smallest interval [lo, hi] covering all angles,
// found by removing the largest gap between consecutive angles. A single
// distinct angle covers the full turn.
func angularCoverage(angles []float64) (float64, float64) {
	if len(angles) == 0 {
		return 0, 2 * math.Pi
	}
	sorted := slices.Clone(angles)
	slices.Sort(sorted)

	distinct := []float64{sorted[0]}
	for _, a := range sorted[1:] {
		if a-distinct[len(distinct)-1] > 1e-9 {
			distinct = append(distinct, a)
		}
	}
	if len(distinct) == 1 {
		return 0, 2 * math.Pi
	}

	// Gap after the last angle wraps around to the first
	bestGap := distinct[0] + 2*math.Pi - distinct[len(distinct)-1]
	lo, hi := distinct[0], distinct[len(distinct)-1]
	for i := 1; i < len(distinct); i++ {
		gap := distinct[i] - distinct[i-1]
		if gap > bestGap {
			bestGap = gap
			lo, hi = distinct[i], distinct[i-1]+2*math.Pi
		}
	}
	return lo, hi
}
