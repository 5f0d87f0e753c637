// Package postprocess turns per-level raw predictions into final detections:
// score/centerness fusion, top-k pre-filtering, box and contour decoding,
// rescaling to the original image, and mask-aware suppression.
package postprocess

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/MeKo-Tech/raydet/internal/codec"
	"github.com/MeKo-Tech/raydet/internal/geometry"
	"github.com/MeKo-Tech/raydet/internal/nms"
	"github.com/MeKo-Tech/raydet/internal/points"
	"github.com/MeKo-Tech/raydet/internal/pyramid"
)

// BoxSource selects where a detection's box comes from.
type BoxSource int

const (
	// BoxFromRegression uses the regressed box-edge distances.
	BoxFromRegression BoxSource = iota
	// BoxFromMask derives the box from the decoded contour's extent.
	BoxFromMask
)

// NMSBoxSource selects which box feeds the suppression stage.
type NMSBoxSource int

const (
	// NMSBoxPredicted suppresses on the detection's own box.
	NMSBoxPredicted NMSBoxSource = iota
	// NMSBoxMaskExtent suppresses on the contour's axis-aligned extent.
	NMSBoxMaskExtent
)

// Params are the inference-time tunables.
type Params struct {
	ScoreThr       float64
	NMSIoU         float64
	MaxPerImg      int
	NMSPre         int // top-k pre-filter per level, <= 0 disables
	CenternessBias float64
	ClampToImage   bool
	BoxSource      BoxSource
	NMSBoxSource   NMSBoxSource
}

// Meta describes the image a pyramid was computed for. ScaleX/ScaleY are the
// resize factors from original to network input; decoded coordinates are
// divided by them, per axis, to land in original image space.
type Meta struct {
	InputWidth  int
	InputHeight int
	ScaleX      float64
	ScaleY      float64
}

// Decoder decodes raw pyramids into detections with contour polygons.
type Decoder struct {
	codec   *codec.Codec
	payload codec.Payload
	strides []int
	params  Params
}

// NewDecoder creates a decoder for the given codec, mask payload, and
// per-level strides.
func NewDecoder(c *codec.Codec, payload codec.Payload, strides []int, params Params) (*Decoder, error) {
	if c == nil || payload == nil {
		return nil, errors.New("codec and payload must be set")
	}
	if len(strides) == 0 {
		return nil, errors.New("no strides")
	}
	return &Decoder{codec: c, payload: payload, strides: strides, params: params}, nil
}

// candidate is one point's decoded state before suppression.
type candidate struct {
	box        geometry.Box
	scores     []float64 // leading background column
	centerness float64
	polygon    []geometry.Point
}

// Decode processes one image's pyramid. Level order is preserved while
// concatenating candidates so point/prediction alignment holds throughout.
func (d *Decoder) Decode(levels []pyramid.Level, meta Meta) ([]nms.Detection, error) {
	if len(levels) != len(d.strides) {
		return nil, fmt.Errorf("level count mismatch: %d levels vs %d strides", len(levels), len(d.strides))
	}
	if meta.ScaleX <= 0 || meta.ScaleY <= 0 {
		return nil, fmt.Errorf("invalid scale factors (%g, %g)", meta.ScaleX, meta.ScaleY)
	}
	classChannels := levels[0].ClassChannels()
	if err := pyramid.ValidateLevels(levels, len(d.strides), classChannels, d.payload.Channels()); err != nil {
		return nil, err
	}

	sizes := make([]points.LevelSize, len(levels))
	for i := range levels {
		sizes[i] = points.LevelSize{Height: levels[i].Height, Width: levels[i].Width}
	}
	grid, err := points.Generate(sizes, d.strides)
	if err != nil {
		return nil, err
	}

	var bounds *geometry.Box
	if d.params.ClampToImage {
		b := geometry.NewBox(0, 0, float64(meta.InputWidth-1), float64(meta.InputHeight-1))
		bounds = &b
	}

	all := make([]candidate, 0)
	for lvl := range levels {
		cands, err := d.decodeLevel(&levels[lvl], grid[lvl], classChannels, bounds)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", lvl, err)
		}
		all = append(all, cands...)
	}

	d.rescale(all, meta)

	boxes := make([]geometry.Box, len(all))
	scores := make([][]float64, len(all))
	polygons := make([][]geometry.Point, len(all))
	factors := make([]float64, len(all))
	for i, c := range all {
		boxes[i] = d.nmsBox(c)
		scores[i] = c.scores
		polygons[i] = c.polygon
		factors[i] = c.centerness + d.params.CenternessBias
	}

	dets, err := nms.MultiClass(boxes, scores, polygons, factors, nms.Params{
		ScoreThr:  d.params.ScoreThr,
		IoUThr:    d.params.NMSIoU,
		MaxPerImg: d.params.MaxPerImg,
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("decoded pyramid",
		"levels", len(levels),
		"candidates", len(all),
		"detections", len(dets))
	return dets, nil
}

// decodeLevel activates, pre-filters, and decodes one level's predictions.
func (d *Decoder) decodeLevel(level *pyramid.Level, pts []points.Point, classChannels int, bounds *geometry.Box) ([]candidate, error) {
	cells := level.Cells()
	order := d.prefilter(level, classChannels, cells)

	cands := make([]candidate, 0, len(order))
	maskChannels := d.payload.Channels()
	raw := make([]float64, maskChannels)
	for _, idx := range order {
		p := pts[idx]
		center := geometry.Point{X: p.X, Y: p.Y}

		scores := make([]float64, classChannels+1)
		for c := 0; c < classChannels; c++ {
			scores[c+1] = sigmoid(float64(level.Classes[idx*classChannels+c]))
		}
		centerness := sigmoid(float64(level.Centerness[idx]))

		for c := 0; c < maskChannels; c++ {
			raw[c] = float64(level.Masks[idx*maskChannels+c])
		}
		rays, err := d.payload.Rays(raw)
		if err != nil {
			return nil, err
		}
		polygon, err := d.codec.Decode(center, rays, bounds, nil)
		if err != nil {
			return nil, err
		}

		var box geometry.Box
		if d.params.BoxSource == BoxFromMask {
			box = geometry.PolygonBounds(polygon)
		} else {
			box = regressedBox(center, level, idx)
			if bounds != nil {
				box = box.Clamp(*bounds)
			}
		}

		cands = append(cands, candidate{
			box:        box,
			scores:     scores,
			centerness: centerness,
			polygon:    polygon,
		})
	}
	return cands, nil
}

// prefilter returns the point indices to decode, keeping only the top
// NMSPre by max(class score) * centerness when the level exceeds it.
func (d *Decoder) prefilter(level *pyramid.Level, classChannels, cells int) []int {
	order := make([]int, cells)
	for i := range order {
		order[i] = i
	}
	if d.params.NMSPre <= 0 || cells <= d.params.NMSPre {
		return order
	}
	fused := make([]float64, cells)
	for i := 0; i < cells; i++ {
		best := math.Inf(-1)
		for c := 0; c < classChannels; c++ {
			if v := float64(level.Classes[i*classChannels+c]); v > best {
				best = v
			}
		}
		fused[i] = sigmoid(best) * sigmoid(float64(level.Centerness[i]))
	}
	sort.SliceStable(order, func(a, b int) bool { return fused[order[a]] > fused[order[b]] })
	return order[:d.params.NMSPre]
}

// regressedBox decodes the regressed box distances (stored as logs) at
// the given cell.
func regressedBox(center geometry.Point, level *pyramid.Level, idx int) geometry.Box {
	l := math.Exp(float64(level.Boxes[idx*4+0]))
	t := math.Exp(float64(level.Boxes[idx*4+1]))
	r := math.Exp(float64(level.Boxes[idx*4+2]))
	b := math.Exp(float64(level.Boxes[idx*4+3]))
	return geometry.Box{MinX: center.X - l, MinY: center.Y - t, MaxX: center.X + r, MaxY: center.Y + b}
}

// rescale divides all coordinates by the per-axis scale factors, mapping
// them back to original image space.
func (d *Decoder) rescale(cands []candidate, meta Meta) {
	if meta.ScaleX == 1 && meta.ScaleY == 1 {
		return
	}
	invX, invY := 1/meta.ScaleX, 1/meta.ScaleY
	for i := range cands {
		cands[i].box = cands[i].box.Scale(invX, invY)
		for j, p := range cands[i].polygon {
			cands[i].polygon[j] = geometry.Point{X: p.X * invX, Y: p.Y * invY}
		}
	}
}

// nmsBox picks the box handed to suppression.
func (d *Decoder) nmsBox(c candidate) geometry.Box {
	if d.params.NMSBoxSource == NMSBoxMaskExtent {
		return geometry.PolygonBounds(c.polygon)
	}
	return c.box
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
