package geometry

import "math"

// PolygonArea returns the absolute area of a closed polygon using the
// shoelace formula. The polygon is given without a duplicated closing point.
func PolygonArea(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	sum := 0.0
	for i, p := range pts {
		q := pts[(i+1)%len(pts)]
		sum += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(sum) / 2
}

// PolygonBounds returns the axis-aligned bounding box of a polygon.
func PolygonBounds(pts []Point) Box {
	if len(pts) == 0 {
		return Box{}
	}
	b := Box{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y}
	for _, p := range pts[1:] {
		b.MinX = math.Min(b.MinX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

// PolygonCentroid returns the average of the polygon's vertices. This is the
// sampling center used when a contour has to be rebuilt from ray distances.
func PolygonCentroid(pts []Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	cx, cy := 0.0, 0.0
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	return Point{X: cx / n, Y: cy / n}
}

// RaySegmentDistance returns the distance from origin along direction
// (dx, dy) to the intersection with segment ab, and whether the ray crosses
// the segment at all. The direction must be a unit vector.
func RaySegmentDistance(origin Point, dx, dy float64, a, b Point) (float64, bool) {
	// Solve origin + t*(dx,dy) = a + u*(b-a) for t >= 0, u in [0,1].
	ex, ey := b.X-a.X, b.Y-a.Y
	den := dx*ey - dy*ex
	if den == 0 {
		// Parallel; treat collinear overlap as a miss, neighbors cover it.
		return 0, false
	}
	wx, wy := a.X-origin.X, a.Y-origin.Y
	t := (wx*ey - wy*ex) / den
	u := (wx*dy - wy*dx) / den
	if t < 0 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// ScalePolygon scales all polygon points by sx, sy.
func ScalePolygon(pts []Point, sx, sy float64) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X * sx, Y: p.Y * sy}
	}
	return out
}
