// Package loss combines the classification, box, mask, and centerness loss
// terms of the detection head. The concrete scoring functions are pluggable;
// defaults mirroring the head's reference configuration live in losses.go.
package loss

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/raydet/internal/assign"
	"github.com/MeKo-Tech/raydet/internal/codec"
	"github.com/MeKo-Tech/raydet/internal/geometry"
)

// ClassLoss scores one point's foreground class logits against its label
// (assign.BackgroundLabel for background, otherwise 1-based class index).
type ClassLoss func(logits []float64, label int) float64

// BoxLoss scores a decoded predicted box against a decoded target box.
type BoxLoss func(pred, target geometry.Box) float64

// RayLoss scores a predicted ray-distance vector against its target.
type RayLoss func(pred, target []float64) float64

// CoeffLoss scores predicted frequency coefficients against coefficients
// forward-transformed from the target rays.
type CoeffLoss func(pred, target [][2]float64) float64

// ScalarLoss scores a single logit against a scalar target.
type ScalarLoss func(logit, target float64) float64

// Record holds the four named loss components of one batch.
type Record struct {
	Cls        float64
	Box        float64
	Mask       float64
	Centerness float64
}

// Predictions holds flattened per-point predictions aligned with the target
// order (images, then levels, then points). Boxes and Rays are in their
// decoded, strictly positive form; ClassLogits and Centerness are raw
// logits. Exactly one of Rays or Coeffs is set, matching the mask payload.
type Predictions struct {
	ClassLogits [][]float64
	Boxes       [][4]float64
	Centerness  []float64
	Rays        [][]float64
	Coeffs      [][][2]float64
	PointXY     [][2]float64
	NumImages   int
}

func (p *Predictions) validate() error {
	n := len(p.ClassLogits)
	if len(p.Boxes) != n || len(p.Centerness) != n || len(p.PointXY) != n {
		return fmt.Errorf("prediction length mismatch: cls=%d box=%d centerness=%d points=%d",
			n, len(p.Boxes), len(p.Centerness), len(p.PointXY))
	}
	if p.Rays != nil && p.Coeffs != nil {
		return errors.New("both ray and coefficient payloads set")
	}
	if p.Rays == nil && p.Coeffs == nil {
		return errors.New("no mask payload set")
	}
	if p.Rays != nil && len(p.Rays) != n {
		return fmt.Errorf("prediction length mismatch: rays=%d want %d", len(p.Rays), n)
	}
	if p.Coeffs != nil && len(p.Coeffs) != n {
		return fmt.Errorf("prediction length mismatch: coeffs=%d want %d", len(p.Coeffs), n)
	}
	if p.NumImages < 1 {
		return fmt.Errorf("invalid image count %d", p.NumImages)
	}
	return nil
}

// Assembler computes the structured loss record for one batch.
type Assembler struct {
	codec  *codec.Codec
	numCoe int

	cls        ClassLoss
	box        BoxLoss
	ray        RayLoss
	coeff      CoeffLoss
	centerness ScalarLoss
}

// Option overrides one of the assembler's scoring functions.
type Option func(*Assembler)

// WithClassLoss replaces the classification loss.
func WithClassLoss(f ClassLoss) Option { return func(a *Assembler) { a.cls = f } }

// WithBoxLoss replaces the box regression loss.
func WithBoxLoss(f BoxLoss) Option { return func(a *Assembler) { a.box = f } }

// WithRayLoss replaces the ray-distance mask loss.
func WithRayLoss(f RayLoss) Option { return func(a *Assembler) { a.ray = f } }

// WithCoeffLoss replaces the frequency-coefficient mask loss.
func WithCoeffLoss(f CoeffLoss) Option { return func(a *Assembler) { a.coeff = f } }

// WithCenternessLoss replaces the centerness loss.
func WithCenternessLoss(f ScalarLoss) Option { return func(a *Assembler) { a.centerness = f } }

// New creates an assembler. numCoe is the retained coefficient count used to
// truncate forward-transformed targets on the frequency path.
func New(c *codec.Codec, numCoe int, opts ...Option) (*Assembler, error) {
	if c == nil {
		return nil, errors.New("codec is nil")
	}
	if numCoe < 1 || numCoe > c.MaxCoefficients() {
		return nil, fmt.Errorf("coefficient count %d outside [1, %d]", numCoe, c.MaxCoefficients())
	}
	a := &Assembler{
		codec:      c,
		numCoe:     numCoe,
		cls:        SigmoidFocalLoss(0.25, 2.0),
		box:        IoULoss(),
		ray:        PolarIoULoss(),
		coeff:      SmoothL1CoeffLoss(1.0),
		centerness: BCEWithLogits(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Compute evaluates the four loss terms. Classification aggregates over all
// points normalized by (#positives + #images); box and ray losses are
// weighted by the centerness target and normalized by the weight sum; the
// coefficient path is unweighted. All regression terms are zero when the
// batch has no positive points.
func (a *Assembler) Compute(preds *Predictions, targets *assign.Targets) (Record, error) {
	if err := preds.validate(); err != nil {
		return Record{}, err
	}
	if len(targets.Labels) != len(preds.ClassLogits) {
		return Record{}, fmt.Errorf("target/prediction length mismatch: %d vs %d",
			len(targets.Labels), len(preds.ClassLogits))
	}

	numPos := targets.NumPositive()

	var rec Record
	clsSum := 0.0
	for i, logits := range preds.ClassLogits {
		clsSum += a.cls(logits, targets.Labels[i])
	}
	rec.Cls = clsSum / float64(numPos+preds.NumImages)

	if numPos == 0 {
		return rec, nil
	}

	boxSum, maskSum, ctrSum := 0.0, 0.0, 0.0
	weightSum := 0.0
	for i, label := range targets.Labels {
		if label == assign.BackgroundLabel {
			continue
		}
		w := targets.Centerness[i]
		weightSum += w

		px, py := preds.PointXY[i][0], preds.PointXY[i][1]
		predBox := DistanceToBox(px, py, preds.Boxes[i])
		targetBox := DistanceToBox(px, py, targets.Boxes[i])
		boxSum += w * a.box(predBox, targetBox)

		if preds.Rays != nil {
			maskSum += w * a.ray(preds.Rays[i], targets.Rays[i])
		} else {
			targetCoeffs, err := a.codec.ToFrequency(targets.Rays[i], a.numCoe)
			if err != nil {
				return Record{}, fmt.Errorf("transforming mask target for point %d: %w", i, err)
			}
			maskSum += a.coeff(preds.Coeffs[i], targetCoeffs)
		}

		ctrSum += a.centerness(preds.Centerness[i], targets.Centerness[i])
	}

	if weightSum > 0 {
		rec.Box = boxSum / weightSum
	}
	if preds.Rays != nil {
		if weightSum > 0 {
			rec.Mask = maskSum / weightSum
		}
	} else {
		rec.Mask = maskSum / float64(numPos)
	}
	rec.Centerness = ctrSum / float64(numPos)
	return rec, nil
}

// DistanceToBox converts (left, top, right, bottom) edge distances at point
// (px, py) into an absolute box.
func DistanceToBox(px, py float64, d [4]float64) geometry.Box {
	return geometry.Box{
		MinX: px - d[0],
		MinY: py - d[1],
		MaxX: px + d[2],
		MaxY: py + d[3],
	}
}
