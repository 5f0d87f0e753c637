// Package codec converts between spatial contours and the per-point
// regression payloads used by the detection head: fixed-angle ray distances
// and their truncated Fourier encoding.
package codec

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MeKo-Tech/raydet/internal/geometry"
	"gonum.org/v1/gonum/dsp/fourier"
)

// minRayDistance is the floor applied to encoded ray distances so the
// log-space convention stays defined for rays that graze the boundary.
const minRayDistance = 1e-6

var (
	// ErrDegeneratePolygon is returned when a ground-truth contour has no area.
	ErrDegeneratePolygon = errors.New("degenerate polygon: zero area")
)

// Codec samples contours at a fixed number of angles and transforms the
// resulting ray-distance vectors to and from a truncated frequency
// representation. The angle table is computed once at construction and is
// immutable; a Codec is safe for concurrent use.
type Codec struct {
	k   int
	sin []float64
	cos []float64

	ffts sync.Pool // *fourier.FFT, the transform keeps internal work buffers
}

// New creates a codec with k uniformly spaced angular samples over 360°.
// k must be an even number of at least four so the half spectrum of a
// k-length real signal is well defined.
func New(k int) (*Codec, error) {
	if k < 4 || k%2 != 0 {
		return nil, fmt.Errorf("contour points must be even and >= 4, got %d", k)
	}
	c := &Codec{
		k:   k,
		sin: make([]float64, k),
		cos: make([]float64, k),
	}
	step := 2 * math.Pi / float64(k)
	for i := 0; i < k; i++ {
		c.sin[i] = math.Sin(float64(i) * step)
		c.cos[i] = math.Cos(float64(i) * step)
	}
	c.ffts.New = func() any { return fourier.NewFFT(k) }
	return c, nil
}

// Points returns the number of angular samples K.
func (c *Codec) Points() int { return c.k }

// MaxCoefficients returns the Nyquist bound K/2+1 on retained coefficients.
func (c *Codec) MaxCoefficients() int { return c.k/2 + 1 }

// Encode samples the polygon boundary at the codec's K angles relative to
// center. Each entry is the distance from center to the first boundary
// crossing along that angle. Concave contours are handled by taking the
// nearest crossing. Fails on polygons with fewer than three vertices or
// zero area.
func (c *Codec) Encode(polygon []geometry.Point, center geometry.Point) ([]float64, error) {
	if len(polygon) < 3 {
		return nil, fmt.Errorf("polygon needs at least 3 vertices, got %d", len(polygon))
	}
	if geometry.PolygonArea(polygon) == 0 {
		return nil, ErrDegeneratePolygon
	}
	rays := make([]float64, c.k)
	for i := 0; i < c.k; i++ {
		dx, dy := c.sin[i], c.cos[i]
		best := math.Inf(1)
		for j, a := range polygon {
			b := polygon[(j+1)%len(polygon)]
			if d, ok := geometry.RaySegmentDistance(center, dx, dy, a, b); ok && d < best {
				best = d
			}
		}
		if math.IsInf(best, 1) || best < minRayDistance {
			// No crossing along this angle (center outside the contour)
			// or a grazing hit; keep the distance strictly positive.
			best = minRayDistance
		}
		rays[i] = best
	}
	return rays, nil
}

// Decode reconstructs the contour polygon for ray distances around center:
// x = cx + d*sin(theta), y = cy + d*cos(theta) for each of the K angles.
// If bounds is non-nil the vertices are clamped into it; if clip is non-nil
// they are additionally clamped into that box.
func (c *Codec) Decode(center geometry.Point, rays []float64, bounds, clip *geometry.Box) ([]geometry.Point, error) {
	if len(rays) != c.k {
		return nil, fmt.Errorf("expected %d ray distances, got %d", c.k, len(rays))
	}
	poly := make([]geometry.Point, c.k)
	for i, d := range rays {
		x := center.X + d*c.sin[i]
		y := center.Y + d*c.cos[i]
		if bounds != nil {
			x = clampFloat(x, bounds.MinX, bounds.MaxX)
			y = clampFloat(y, bounds.MinY, bounds.MaxY)
		}
		if clip != nil {
			x = clampFloat(x, clip.MinX, clip.MaxX)
			y = clampFloat(y, clip.MinY, clip.MaxY)
		}
		poly[i] = geometry.Point{X: x, Y: y}
	}
	return poly, nil
}

// DecodeCoefficients reconstructs the contour polygon for a frequency
// payload by inverting the truncated spectrum first.
func (c *Codec) DecodeCoefficients(center geometry.Point, coeffs [][2]float64, bounds, clip *geometry.Box) ([]geometry.Point, error) {
	rays, err := c.FromFrequency(coeffs)
	if err != nil {
		return nil, err
	}
	return c.Decode(center, rays, bounds, clip)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
