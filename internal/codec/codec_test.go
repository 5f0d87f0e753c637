package codec

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/raydet/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squarePolygon(cx, cy, half float64) []geometry.Point {
	return []geometry.Point{
		{X: cx - half, Y: cy - half},
		{X: cx + half, Y: cy - half},
		{X: cx + half, Y: cy + half},
		{X: cx - half, Y: cy + half},
	}
}

func TestNew_ValidatesSampleCount(t *testing.T) {
	_, err := New(3)
	require.Error(t, err)
	_, err = New(7)
	require.Error(t, err)
	c, err := New(36)
	require.NoError(t, err)
	assert.Equal(t, 36, c.Points())
	assert.Equal(t, 19, c.MaxCoefficients())
}

func TestEncode_SquareRays(t *testing.T) {
	c, err := New(36)
	require.NoError(t, err)

	center := geometry.Point{X: 50, Y: 50}
	rays, err := c.Encode(squarePolygon(50, 50, 10), center)
	require.NoError(t, err)
	require.Len(t, rays, 36)

	// Axis-aligned samples (0°, 90°, 180°, 270°) hit the edge midpoints.
	for _, i := range []int{0, 9, 18, 27} {
		assert.InDelta(t, 10.0, rays[i], 1e-9, "sample %d", i)
	}
	// 40° sample: the nearer crossing is the horizontal edge at 10/cos(40°).
	assert.InDelta(t, 10.0/math.Cos(40*math.Pi/180), rays[4], 1e-9)

	// With K=8 the 45° diagonal is sampled exactly and reaches the corner.
	c8, err := New(8)
	require.NoError(t, err)
	rays8, err := c8.Encode(squarePolygon(50, 50, 10), center)
	require.NoError(t, err)
	assert.InDelta(t, 10*math.Sqrt2, rays8[1], 1e-9)
}

func TestEncode_ConcaveTakesFirstCrossing(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	// L-shaped contour with a notch cut toward the center along +x.
	poly := []geometry.Point{
		{X: -10, Y: -10}, {X: 10, Y: -10}, {X: 10, Y: -2},
		{X: 3, Y: -2}, {X: 3, Y: 2}, {X: 10, Y: 2},
		{X: 10, Y: 10}, {X: -10, Y: 10},
	}
	rays, err := c.Encode(poly, geometry.Point{X: 0, Y: 0})
	require.NoError(t, err)
	// Sample 1 points along +x (sin 90° = 1) and must stop at the notch.
	assert.InDelta(t, 3.0, rays[1], 1e-9)
}

func TestEncode_DegeneratePolygon(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	_, err = c.Encode([]geometry.Point{{X: 0, Y: 0}, {X: 5, Y: 5}}, geometry.Point{})
	require.Error(t, err)

	collinear := []geometry.Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 10}}
	_, err = c.Encode(collinear, geometry.Point{})
	require.ErrorIs(t, err, ErrDegeneratePolygon)
}

func TestEncode_CenterOutside(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	rays, err := c.Encode(squarePolygon(100, 100, 5), geometry.Point{X: 0, Y: 0})
	require.NoError(t, err)
	// Rays that never cross the contour fall back to the positive floor.
	assert.InDelta(t, minRayDistance, rays[4], 1e-12)
}

func TestDecode_SquareRoundTrip(t *testing.T) {
	c, err := New(36)
	require.NoError(t, err)

	center := geometry.Point{X: 50, Y: 50}
	rays, err := c.Encode(squarePolygon(50, 50, 10), center)
	require.NoError(t, err)

	poly, err := c.Decode(center, rays, nil, nil)
	require.NoError(t, err)
	require.Len(t, poly, 36)
	// Re-encoding the decoded polygon reproduces the ray vector.
	again, err := c.Encode(poly, center)
	require.NoError(t, err)
	for i := range rays {
		assert.InDelta(t, rays[i], again[i], 1e-6, "sample %d", i)
	}
}

func TestDecode_Clamping(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	rays := make([]float64, 8)
	for i := range rays {
		rays[i] = 100
	}
	bounds := geometry.NewBox(0, 0, 63, 63)
	poly, err := c.Decode(geometry.Point{X: 32, Y: 32}, rays, &bounds, nil)
	require.NoError(t, err)
	for _, p := range poly {
		assert.GreaterOrEqual(t, p.X, 0.0)
		assert.LessOrEqual(t, p.X, 63.0)
		assert.GreaterOrEqual(t, p.Y, 0.0)
		assert.LessOrEqual(t, p.Y, 63.0)
	}

	clip := geometry.NewBox(20, 20, 40, 40)
	poly, err = c.Decode(geometry.Point{X: 32, Y: 32}, rays, &bounds, &clip)
	require.NoError(t, err)
	for _, p := range poly {
		assert.GreaterOrEqual(t, p.X, 20.0)
		assert.LessOrEqual(t, p.X, 40.0)
	}
}

func TestDecode_WrongLength(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)
	_, err = c.Decode(geometry.Point{}, make([]float64, 7), nil, nil)
	require.Error(t, err)
}

func TestFrequency_FullWidthRoundTrip(t *testing.T) {
	c, err := New(36)
	require.NoError(t, err)

	rays := make([]float64, 36)
	for i := range rays {
		rays[i] = 10 + 3*math.Sin(float64(i)*0.7) + 0.5*float64(i%5)
	}
	coeffs, err := c.ToFrequency(rays, c.MaxCoefficients())
	require.NoError(t, err)
	require.Len(t, coeffs, 19)

	back, err := c.FromFrequency(coeffs)
	require.NoError(t, err)
	for i := range rays {
		assert.InDelta(t, rays[i], back[i], 1e-9, "sample %d", i)
	}
}

func TestFrequency_Bounds(t *testing.T) {
	c, err := New(36)
	require.NoError(t, err)
	rays := make([]float64, 36)
	for i := range rays {
		rays[i] = 1
	}
	_, err = c.ToFrequency(rays, 0)
	require.Error(t, err)
	_, err = c.ToFrequency(rays, 20)
	require.Error(t, err)
	_, err = c.FromFrequency(make([][2]float64, 0))
	require.Error(t, err)
	_, err = c.FromFrequency(make([][2]float64, 20))
	require.Error(t, err)
}

func TestFromFrequency_AlwaysPositive(t *testing.T) {
	c, err := New(36)
	require.NoError(t, err)
	coeffs := [][2]float64{{-40, 12}, {3, -7}, {-1, 2}}
	rays, err := c.FromFrequency(coeffs)
	require.NoError(t, err)
	for i, d := range rays {
		assert.Greater(t, d, 0.0, "sample %d", i)
	}
}

func TestFrequency_TruncationErrorMonotone(t *testing.T) {
	c, err := New(36)
	require.NoError(t, err)

	rays := make([]float64, 36)
	for i := range rays {
		rays[i] = 12 + 4*math.Cos(float64(i)*0.5) + math.Sin(float64(i)*1.3)
	}
	prev := math.Inf(1)
	for nc := 1; nc <= c.MaxCoefficients(); nc++ {
		coeffs, err := c.ToFrequency(rays, nc)
		require.NoError(t, err)
		back, err := c.FromFrequency(coeffs)
		require.NoError(t, err)
		e := reconstructionError(rays, back)
		assert.LessOrEqual(t, e, prev+1e-9, "coefficients %d", nc)
		prev = e
	}
	// Full width is exact.
	assert.InDelta(t, 0.0, prev, 1e-9)
}

// reconstructionError is the log-space RMS difference between two positive
// ray vectors; truncating the spectrum drops harmonic energy so this is
// non-increasing in the number of retained coefficients.
func reconstructionError(want, got []float64) float64 {
	sum := 0.0
	for i := range want {
		d := math.Log(want[i]) - math.Log(got[i])
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(want)))
}
