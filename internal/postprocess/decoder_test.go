package postprocess

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/raydet/internal/codec"
	"github.com/MeKo-Tech/raydet/internal/pyramid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singleLevel builds an h x w level with background logits everywhere and
// one "hot" cell carrying a confident prediction of a radius-10 contour.
func singleLevel(h, w, classChannels, maskChannels, hotIdx int) pyramid.Level {
	cells := h * w
	level := pyramid.Level{
		Height:     h,
		Width:      w,
		Classes:    make([]float32, cells*classChannels),
		Boxes:      make([]float32, cells*4),
		Centerness: make([]float32, cells),
		Masks:      make([]float32, cells*maskChannels),
	}
	for i := range level.Classes {
		level.Classes[i] = -10
	}
	for i := range level.Centerness {
		level.Centerness[i] = -10
	}
	logTen := float32(math.Log(10))
	level.Classes[hotIdx*classChannels] = 6
	level.Centerness[hotIdx] = 6
	for c := 0; c < 4; c++ {
		level.Boxes[hotIdx*4+c] = logTen
	}
	for c := 0; c < maskChannels; c++ {
		level.Masks[hotIdx*maskChannels+c] = logTen
	}
	return level
}

func newRayDecoder(t *testing.T, params Params) *Decoder {
	t.Helper()
	c, err := codec.New(36)
	require.NoError(t, err)
	d, err := NewDecoder(c, codec.NewRayPayload(c), []int{8}, params)
	require.NoError(t, err)
	return d
}

func TestDecode_SingleDetection(t *testing.T) {
	d := newRayDecoder(t, Params{ScoreThr: 0.3, NMSIoU: 0.5, MaxPerImg: 10})
	// Hot cell at (row 2, col 2) of a 4x4 stride-8 level: point (20, 20).
	level := singleLevel(4, 4, 2, 36, 10)

	dets, err := d.Decode([]pyramid.Level{level}, Meta{InputWidth: 32, InputHeight: 32, ScaleX: 1, ScaleY: 1})
	require.NoError(t, err)
	require.Len(t, dets, 1)

	det := dets[0]
	assert.Equal(t, 1, det.Label)
	assert.Greater(t, det.Score, 0.9)
	// Regressed box: 10 in every direction from (20, 20).
	assert.InDelta(t, 10, det.Box.MinX, 1e-4)
	assert.InDelta(t, 10, det.Box.MinY, 1e-4)
	assert.InDelta(t, 30, det.Box.MaxX, 1e-4)
	assert.InDelta(t, 30, det.Box.MaxY, 1e-4)
	// Contour: 36-gon of radius 10 around the point.
	require.Len(t, det.Polygon, 36)
	for _, p := range det.Polygon {
		r := math.Hypot(p.X-20, p.Y-20)
		assert.InDelta(t, 10, r, 1e-4)
	}
}

func TestDecode_RescalePerAxis(t *testing.T) {
	d := newRayDecoder(t, Params{ScoreThr: 0.3, NMSIoU: 0.5, MaxPerImg: 10})
	level := singleLevel(4, 4, 2, 36, 10)

	// Network input was upscaled 2x horizontally and 4x vertically.
	dets, err := d.Decode([]pyramid.Level{level}, Meta{InputWidth: 32, InputHeight: 32, ScaleX: 2, ScaleY: 4})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.InDelta(t, 5, dets[0].Box.MinX, 1e-4)
	assert.InDelta(t, 2.5, dets[0].Box.MinY, 1e-4)
	assert.InDelta(t, 15, dets[0].Box.MaxX, 1e-4)
	assert.InDelta(t, 7.5, dets[0].Box.MaxY, 1e-4)
	// Polygon rescales component-wise too.
	for _, p := range dets[0].Polygon {
		assert.InDelta(t, 10, p.X, 5.0+1e-4)
		assert.InDelta(t, 5, p.Y, 2.5+1e-4)
	}
}

func TestDecode_ClampToImage(t *testing.T) {
	d := newRayDecoder(t, Params{ScoreThr: 0.3, NMSIoU: 0.5, MaxPerImg: 10, ClampToImage: true})
	// Hot cell at the top-left corner point (4, 4); radius 10 spills out.
	level := singleLevel(4, 4, 2, 36, 0)

	dets, err := d.Decode([]pyramid.Level{level}, Meta{InputWidth: 32, InputHeight: 32, ScaleX: 1, ScaleY: 1})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.GreaterOrEqual(t, dets[0].Box.MinX, 0.0)
	assert.GreaterOrEqual(t, dets[0].Box.MinY, 0.0)
	for _, p := range dets[0].Polygon {
		assert.GreaterOrEqual(t, p.X, 0.0)
		assert.GreaterOrEqual(t, p.Y, 0.0)
		assert.LessOrEqual(t, p.X, 31.0)
		assert.LessOrEqual(t, p.Y, 31.0)
	}
}

func TestDecode_BoxFromMask(t *testing.T) {
	d := newRayDecoder(t, Params{ScoreThr: 0.3, NMSIoU: 0.5, MaxPerImg: 10, BoxSource: BoxFromMask})
	level := singleLevel(4, 4, 2, 36, 10)
	// Zero the regressed box channels so a regression-sourced box would
	// have unit half-widths.
	for i := range level.Boxes {
		level.Boxes[i] = 0
	}

	dets, err := d.Decode([]pyramid.Level{level}, Meta{InputWidth: 32, InputHeight: 32, ScaleX: 1, ScaleY: 1})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	// Extent of a radius-10 contour around (20, 20).
	assert.InDelta(t, 10, dets[0].Box.MinX, 0.2)
	assert.InDelta(t, 30, dets[0].Box.MaxX, 0.2)
}

func TestPrefilter_TopK(t *testing.T) {
	d := newRayDecoder(t, Params{NMSPre: 100})
	// 500 cells with strictly increasing fused score.
	cells := 500
	level := pyramid.Level{
		Height:     1,
		Width:      cells,
		Classes:    make([]float32, cells*2),
		Boxes:      make([]float32, cells*4),
		Centerness: make([]float32, cells),
		Masks:      make([]float32, cells*36),
	}
	for i := 0; i < cells; i++ {
		level.Classes[i*2] = float32(i) * 0.01
		level.Centerness[i] = float32(i) * 0.01
	}

	order := d.prefilter(&level, 2, cells)
	require.Len(t, order, 100)
	// Exactly the 100 highest-scoring cells, best first.
	for i, idx := range order {
		assert.Equal(t, cells-1-i, idx)
	}
}

func TestDecode_ValidationErrors(t *testing.T) {
	d := newRayDecoder(t, Params{})
	level := singleLevel(4, 4, 2, 36, 0)

	// Level count mismatch.
	_, err := d.Decode([]pyramid.Level{level, level}, Meta{ScaleX: 1, ScaleY: 1})
	require.Error(t, err)

	// Bad scale factor.
	_, err = d.Decode([]pyramid.Level{level}, Meta{ScaleX: 0, ScaleY: 1})
	require.Error(t, err)

	// Mask tensor shape mismatch.
	bad := singleLevel(4, 4, 2, 20, 0)
	_, err = d.Decode([]pyramid.Level{bad}, Meta{ScaleX: 1, ScaleY: 1})
	require.Error(t, err)
}
