package assign

import (
	"testing"

	"github.com/MeKo-Tech/raydet/internal/codec"
	"github.com/MeKo-Tech/raydet/internal/geometry"
	"github.com/MeKo-Tech/raydet/internal/points"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssigner(t *testing.T, ranges []RegressRange) *Assigner {
	t.Helper()
	c, err := codec.New(36)
	require.NoError(t, err)
	a, err := New(c, ranges)
	require.NoError(t, err)
	return a
}

func rectInstance(label int, x1, y1, x2, y2 float64) Instance {
	return Instance{
		Label: label,
		Box:   geometry.NewBox(x1, y1, x2, y2),
		Contour: []geometry.Point{
			{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2},
		},
	}
}

func TestAssign_FullCoverage(t *testing.T) {
	// One instance covering the whole map, range admitting its scale:
	// every point must be positive for it.
	a := newAssigner(t, []RegressRange{{Min: -1, Max: 1e8}})
	levels, err := points.Generate([]points.LevelSize{{Height: 4, Width: 4}}, []int{8})
	require.NoError(t, err)

	targets, err := a.Assign(levels, []Instance{rectInstance(3, 0, 0, 32, 32)})
	require.NoError(t, err)
	require.Len(t, targets.Labels, 16)
	assert.Equal(t, 16, targets.NumPositive())
	for i, l := range targets.Labels {
		assert.Equal(t, 3, l, "point %d", i)
		assert.Len(t, targets.Rays[i], 36)
		assert.Greater(t, targets.Centerness[i], 0.0)
		assert.LessOrEqual(t, targets.Centerness[i], 1.0)
	}

	// Center-most points have the highest centerness.
	center := targets.Centerness[5] // point (12,12)
	corner := targets.Centerness[0] // point (4,4)
	assert.Greater(t, center, corner)
}

func TestAssign_BoxDistances(t *testing.T) {
	a := newAssigner(t, []RegressRange{{Min: -1, Max: 1e8}})
	levels, err := points.Generate([]points.LevelSize{{Height: 2, Width: 2}}, []int{8})
	require.NoError(t, err)

	targets, err := a.Assign(levels, []Instance{rectInstance(1, 0, 0, 16, 16)})
	require.NoError(t, err)
	// Point (4,4) inside the 16x16 box.
	assert.Equal(t, [4]float64{4, 4, 12, 12}, targets.Boxes[0])
	// Point (12,12).
	assert.Equal(t, [4]float64{12, 12, 4, 4}, targets.Boxes[3])
}

func TestAssign_SmallestAreaWins(t *testing.T) {
	a := newAssigner(t, []RegressRange{{Min: -1, Max: 1e8}})
	levels, err := points.Generate([]points.LevelSize{{Height: 1, Width: 1}}, []int{8})
	require.NoError(t, err)

	big := rectInstance(1, 0, 0, 40, 40)
	small := rectInstance(2, 0, 0, 10, 10)
	targets, err := a.Assign(levels, []Instance{big, small})
	require.NoError(t, err)
	// The single point (4,4) lies inside both; the smaller instance wins.
	assert.Equal(t, 2, targets.Labels[0])
}

func TestAssign_RangeGating(t *testing.T) {
	// Two levels with disjoint scale bands.
	a := newAssigner(t, []RegressRange{{Min: -1, Max: 16}, {Min: 16, Max: 1e8}})
	levels, err := points.Generate([]points.LevelSize{{Height: 2, Width: 2}, {Height: 1, Width: 1}}, []int{8, 16})
	require.NoError(t, err)

	// Large object: max edge distance from every point exceeds 16, so only
	// the outer level may take it.
	targets, err := a.Assign(levels, []Instance{rectInstance(1, 0, 0, 48, 48)})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.Equal(t, BackgroundLabel, targets.Labels[i], "inner level point %d", i)
		assert.Nil(t, targets.Rays[i])
		assert.Zero(t, targets.Centerness[i])
	}
	assert.Equal(t, 1, targets.Labels[4])
}

func TestAssign_OutsideBoxIsBackground(t *testing.T) {
	a := newAssigner(t, []RegressRange{{Min: -1, Max: 1e8}})
	levels, err := points.Generate([]points.LevelSize{{Height: 1, Width: 2}}, []int{8})
	require.NoError(t, err)

	// Instance only covers the first point (4,4), not (12,4).
	targets, err := a.Assign(levels, []Instance{rectInstance(1, 0, 0, 8, 8)})
	require.NoError(t, err)
	assert.Equal(t, 1, targets.Labels[0])
	assert.Equal(t, BackgroundLabel, targets.Labels[1])
	assert.Equal(t, 1, targets.NumPositive())
}

func TestAssign_InstanceFromRays(t *testing.T) {
	c, err := codec.New(36)
	require.NoError(t, err)
	a, err := New(c, []RegressRange{{Min: -1, Max: 1e8}})
	require.NoError(t, err)

	rays := make([]float64, 36)
	for i := range rays {
		rays[i] = 8
	}
	inst := Instance{
		Label: 1,
		Box:   geometry.NewBox(0, 0, 16, 16),
		Rays:  rays, // circle of radius 8 around (8,8)
	}
	levels, err := points.Generate([]points.LevelSize{{Height: 2, Width: 2}}, []int{8})
	require.NoError(t, err)
	targets, err := a.Assign(levels, []Instance{inst})
	require.NoError(t, err)
	assert.Equal(t, 4, targets.NumPositive())
}

func TestAssign_Validation(t *testing.T) {
	a := newAssigner(t, []RegressRange{{Min: -1, Max: 1e8}})
	levels, err := points.Generate([]points.LevelSize{{Height: 1, Width: 1}, {Height: 1, Width: 1}}, []int{8, 16})
	require.NoError(t, err)

	// Level count differs from range count.
	_, err = a.Assign(levels, nil)
	require.Error(t, err)

	one := levels[:1]
	// Background label on an instance is invalid.
	_, err = a.Assign(one, []Instance{{Label: 0, Box: geometry.NewBox(0, 0, 8, 8)}})
	require.Error(t, err)

	// Missing contour and rays.
	_, err = a.Assign(one, []Instance{{Label: 1, Box: geometry.NewBox(0, 0, 8, 8)}})
	require.Error(t, err)

	// Degenerate polygon.
	flat := Instance{
		Label:   1,
		Box:     geometry.NewBox(0, 0, 8, 8),
		Contour: []geometry.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 8, Y: 0}},
	}
	_, err = a.Assign(one, []Instance{flat})
	require.ErrorIs(t, err, codec.ErrDegeneratePolygon)
}

func TestCenternessTarget(t *testing.T) {
	assert.InDelta(t, 1.0, CenternessTarget([]float64{5, 5, 5, 5}), 1e-9)
	assert.InDelta(t, 0.5, CenternessTarget([]float64{1, 4}), 1e-9)
}

func TestFromDense(t *testing.T) {
	a := newAssigner(t, []RegressRange{{Min: -1, Max: 1e8}})

	labels := []int{0, 2}
	boxes := [][4]float64{{}, {1, 2, 3, 4}}
	rays := [][]float64{nil, make([]float64, 36)}
	centerness := []float64{0, 0.7}
	targets, err := a.FromDense(labels, boxes, rays, centerness)
	require.NoError(t, err)
	assert.Equal(t, 1, targets.NumPositive())

	_, err = a.FromDense(labels, boxes[:1], rays, centerness)
	require.Error(t, err)

	badRays := [][]float64{nil, make([]float64, 12)}
	_, err = a.FromDense(labels, boxes, badRays, centerness)
	require.Error(t, err)
}
