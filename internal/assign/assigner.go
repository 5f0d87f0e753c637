// Package assign derives dense per-point training targets from ground-truth
// instances: class label, box-edge distances, contour ray distances, and a
// centerness score, gated per pyramid level by regression ranges.
package assign

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/raydet/internal/codec"
	"github.com/MeKo-Tech/raydet/internal/geometry"
	"github.com/MeKo-Tech/raydet/internal/points"
)

// BackgroundLabel marks points not assigned to any instance.
const BackgroundLabel = 0

// RegressRange is the admissible band for the maximum box-edge distance of
// objects assigned to one pyramid level.
type RegressRange struct {
	Min float64
	Max float64
}

// Instance is one ground-truth object. Contour is a closed polygon without a
// duplicated closing point; when it is empty, Rays must hold a precomputed
// ray-distance vector sampled around the box center, from which the contour
// is reconstructed.
type Instance struct {
	Label   int
	Box     geometry.Box
	Contour []geometry.Point
	Rays    []float64
}

// Targets holds per-point training targets flattened level-major in point
// order. Background points carry the background label, zero box distances,
// a nil ray vector, and zero centerness; none of them contribute to
// regression losses.
type Targets struct {
	Labels     []int
	Boxes      [][4]float64 // left, top, right, bottom
	Rays       [][]float64
	Centerness []float64
}

// NumPositive returns the number of points assigned to an instance.
func (t *Targets) NumPositive() int {
	n := 0
	for _, l := range t.Labels {
		if l != BackgroundLabel {
			n++
		}
	}
	return n
}

// Assigner computes targets for a fixed codec and per-level range gating.
type Assigner struct {
	codec  *codec.Codec
	ranges []RegressRange
}

// New creates an assigner. The range slice must have one entry per pyramid
// level, ordered inner to outer.
func New(c *codec.Codec, ranges []RegressRange) (*Assigner, error) {
	if c == nil {
		return nil, errors.New("codec is nil")
	}
	if len(ranges) == 0 {
		return nil, errors.New("no regress ranges")
	}
	for i, r := range ranges {
		if r.Max <= r.Min {
			return nil, fmt.Errorf("regress range %d is empty: [%g, %g]", i, r.Min, r.Max)
		}
	}
	return &Assigner{codec: c, ranges: ranges}, nil
}

// preparedInstance caches the per-instance quantities needed in the point loop.
type preparedInstance struct {
	label   int
	box     geometry.Box
	area    float64
	contour []geometry.Point
}

// Assign produces one target per point, in level order then point order.
// Each point is positive for at most one instance: among the instances whose
// box contains the point and whose maximum edge distance falls into the
// level's regress range, the smallest-area one wins.
func (a *Assigner) Assign(levels [][]points.Point, instances []Instance) (*Targets, error) {
	if len(levels) != len(a.ranges) {
		return nil, fmt.Errorf("level count mismatch: %d point levels vs %d regress ranges", len(levels), len(a.ranges))
	}
	prepared, err := a.prepare(instances)
	if err != nil {
		return nil, err
	}

	total := points.Count(levels)
	targets := &Targets{
		Labels:     make([]int, total),
		Boxes:      make([][4]float64, total),
		Rays:       make([][]float64, total),
		Centerness: make([]float64, total),
	}

	idx := 0
	for lvl, pts := range levels {
		rng := a.ranges[lvl]
		for _, p := range pts {
			if err := a.assignPoint(targets, idx, p, rng, prepared); err != nil {
				return nil, err
			}
			idx++
		}
	}
	return targets, nil
}

func (a *Assigner) prepare(instances []Instance) ([]preparedInstance, error) {
	prepared := make([]preparedInstance, len(instances))
	for i, inst := range instances {
		if inst.Label <= BackgroundLabel {
			return nil, fmt.Errorf("instance %d has non-positive label %d", i, inst.Label)
		}
		contour := inst.Contour
		if len(contour) == 0 {
			if len(inst.Rays) != a.codec.Points() {
				return nil, fmt.Errorf("instance %d has neither a contour nor %d ray distances", i, a.codec.Points())
			}
			center := geometry.Point{
				X: (inst.Box.MinX + inst.Box.MaxX) / 2,
				Y: (inst.Box.MinY + inst.Box.MaxY) / 2,
			}
			poly, err := a.codec.Decode(center, inst.Rays, nil, nil)
			if err != nil {
				return nil, fmt.Errorf("instance %d: %w", i, err)
			}
			contour = poly
		}
		if geometry.PolygonArea(contour) == 0 {
			return nil, fmt.Errorf("instance %d: %w", i, codec.ErrDegeneratePolygon)
		}
		prepared[i] = preparedInstance{
			label:   inst.Label,
			box:     inst.Box,
			area:    inst.Box.Area(),
			contour: contour,
		}
	}
	return prepared, nil
}

func (a *Assigner) assignPoint(targets *Targets, idx int, p points.Point, rng RegressRange, instances []preparedInstance) error {
	best := -1
	bestArea := math.Inf(1)
	var bestDist [4]float64
	for i := range instances {
		inst := &instances[i]
		left := p.X - inst.box.MinX
		top := p.Y - inst.box.MinY
		right := inst.box.MaxX - p.X
		bottom := inst.box.MaxY - p.Y
		if left < 0 || top < 0 || right < 0 || bottom < 0 {
			continue
		}
		maxDist := math.Max(math.Max(left, right), math.Max(top, bottom))
		if maxDist < rng.Min || maxDist > rng.Max {
			continue
		}
		if inst.area < bestArea {
			bestArea = inst.area
			best = i
			bestDist = [4]float64{left, top, right, bottom}
		}
	}
	if best < 0 {
		targets.Labels[idx] = BackgroundLabel
		return nil
	}

	inst := &instances[best]
	rays, err := a.codec.Encode(inst.contour, geometry.Point{X: p.X, Y: p.Y})
	if err != nil {
		return fmt.Errorf("encoding contour for point %d: %w", idx, err)
	}
	targets.Labels[idx] = inst.label
	targets.Boxes[idx] = bestDist
	targets.Rays[idx] = rays
	targets.Centerness[idx] = CenternessTarget(rays)
	return nil
}

// CenternessTarget is sqrt(min(rays)/max(rays)). It is only defined for
// positive ray vectors of assigned points.
func CenternessTarget(rays []float64) float64 {
	lo, hi := rays[0], rays[0]
	for _, d := range rays[1:] {
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	return math.Sqrt(lo / hi)
}

// FromDense wraps externally precomputed dense targets, validating that all
// slices cover the same number of points. Ray vectors of positive points
// must match the codec's sample count.
func (a *Assigner) FromDense(labels []int, boxes [][4]float64, rays [][]float64, centerness []float64) (*Targets, error) {
	n := len(labels)
	if len(boxes) != n || len(rays) != n || len(centerness) != n {
		return nil, fmt.Errorf("dense target length mismatch: labels=%d boxes=%d rays=%d centerness=%d",
			n, len(boxes), len(rays), len(centerness))
	}
	for i, l := range labels {
		if l == BackgroundLabel {
			continue
		}
		if len(rays[i]) != a.codec.Points() {
			return nil, fmt.Errorf("point %d: expected %d ray distances, got %d", i, a.codec.Points(), len(rays[i]))
		}
	}
	return &Targets{Labels: labels, Boxes: boxes, Rays: rays, Centerness: centerness}, nil
}
