// Package head assembles the detection head: point generation, target
// assignment and loss computation for training, and pyramid decoding for
// inference. The payload, box-source, and NMS-box policies are fixed once
// at construction.
package head

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/raydet/internal/assign"
	"github.com/MeKo-Tech/raydet/internal/codec"
	"github.com/MeKo-Tech/raydet/internal/geometry"
	"github.com/MeKo-Tech/raydet/internal/loss"
	"github.com/MeKo-Tech/raydet/internal/nms"
	"github.com/MeKo-Tech/raydet/internal/points"
	"github.com/MeKo-Tech/raydet/internal/postprocess"
	"github.com/MeKo-Tech/raydet/internal/pyramid"
)

// Config selects the head's structure and inference tunables.
type Config struct {
	NumClasses    int // including the implicit background class
	Strides       []int
	RegressRanges []assign.RegressRange
	ContourPoints int

	UseFourier bool
	NumCoe     int
	DecodeCoe  int // <= NumCoe, 0 means NumCoe

	BoxFromMask bool
	MaskNMS     bool

	ScoreThr       float64
	NMSIoU         float64
	MaxPerImg      int
	NMSPre         int
	CenternessBias float64
	ClampToImage   bool
}

// DefaultConfig returns the reference configuration: a five-level pyramid
// with 36 contour points and the Fourier payload disabled.
func DefaultConfig() Config {
	return Config{
		NumClasses:     81,
		Strides:        []int{4, 8, 16, 32, 64},
		RegressRanges: []assign.RegressRange{
			{Min: -1, Max: 64},
			{Min: 64, Max: 128},
			{Min: 128, Max: 256},
			{Min: 256, Max: 512},
			{Min: 512, Max: 1e8},
		},
		ContourPoints:  36,
		NumCoe:         18,
		ScoreThr:       0.05,
		NMSIoU:         0.5,
		MaxPerImg:      100,
		NMSPre:         1000,
		CenternessBias: 0.5,
		ClampToImage:   true,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.NumClasses < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", c.NumClasses)
	}
	if len(c.Strides) == 0 {
		return errors.New("no strides configured")
	}
	if len(c.RegressRanges) != len(c.Strides) {
		return fmt.Errorf("regress range count %d does not match stride count %d",
			len(c.RegressRanges), len(c.Strides))
	}
	if c.ContourPoints < 4 || c.ContourPoints%2 != 0 {
		return fmt.Errorf("contour points must be even and >= 4, got %d", c.ContourPoints)
	}
	if c.UseFourier {
		if c.NumCoe < 1 || c.NumCoe > c.ContourPoints/2+1 {
			return fmt.Errorf("coefficient count %d outside [1, %d]", c.NumCoe, c.ContourPoints/2+1)
		}
		if c.DecodeCoe < 0 || c.DecodeCoe > c.NumCoe {
			return fmt.Errorf("decode coefficient count %d outside [0, %d]", c.DecodeCoe, c.NumCoe)
		}
	}
	return nil
}

// Head is the anchor-free contour detection head.
type Head struct {
	cfg       Config
	codec     *codec.Codec
	payload   codec.Payload
	assigner  *assign.Assigner
	assembler *loss.Assembler
	decoder   *postprocess.Decoder
}

// New builds a head from the configuration. Loss options override the
// default scoring functions.
func New(cfg Config, lossOpts ...loss.Option) (*Head, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c, err := codec.New(cfg.ContourPoints)
	if err != nil {
		return nil, err
	}

	var payload codec.Payload
	if cfg.UseFourier {
		decodeCoe := cfg.DecodeCoe
		if decodeCoe == 0 {
			decodeCoe = cfg.NumCoe
		}
		payload, err = codec.NewFourierPayload(c, cfg.NumCoe, decodeCoe)
		if err != nil {
			return nil, err
		}
	} else {
		payload = codec.NewRayPayload(c)
	}

	assigner, err := assign.New(c, cfg.RegressRanges)
	if err != nil {
		return nil, err
	}

	numCoe := cfg.NumCoe
	if !cfg.UseFourier {
		numCoe = c.MaxCoefficients()
	}
	assembler, err := loss.New(c, numCoe, lossOpts...)
	if err != nil {
		return nil, err
	}

	boxSource := postprocess.BoxFromRegression
	if cfg.BoxFromMask {
		boxSource = postprocess.BoxFromMask
	}
	nmsBox := postprocess.NMSBoxPredicted
	if cfg.MaskNMS {
		nmsBox = postprocess.NMSBoxMaskExtent
	}
	decoder, err := postprocess.NewDecoder(c, payload, cfg.Strides, postprocess.Params{
		ScoreThr:       cfg.ScoreThr,
		NMSIoU:         cfg.NMSIoU,
		MaxPerImg:      cfg.MaxPerImg,
		NMSPre:         cfg.NMSPre,
		CenternessBias: cfg.CenternessBias,
		ClampToImage:   cfg.ClampToImage,
		BoxSource:      boxSource,
		NMSBoxSource:   nmsBox,
	})
	if err != nil {
		return nil, err
	}

	return &Head{
		cfg:       cfg,
		codec:     c,
		payload:   payload,
		assigner:  assigner,
		assembler: assembler,
		decoder:   decoder,
	}, nil
}

// Codec exposes the head's contour codec.
func (h *Head) Codec() *codec.Codec { return h.codec }

// Config returns the head's configuration.
func (h *Head) Config() Config { return h.cfg }

// Detections decodes one image's pyramid into final detections.
func (h *Head) Detections(levels []pyramid.Level, meta postprocess.Meta) ([]nms.Detection, error) {
	return h.decoder.Decode(levels, meta)
}

// Loss computes the training loss for a batch. batch[i] holds image i's
// pyramid; instances[i] its ground truth. All images must share the same
// level shapes.
func (h *Head) Loss(batch [][]pyramid.Level, instances [][]assign.Instance) (loss.Record, error) {
	if len(batch) == 0 {
		return loss.Record{}, errors.New("empty batch")
	}
	if len(instances) != len(batch) {
		return loss.Record{}, fmt.Errorf("batch size mismatch: %d pyramids vs %d ground truths",
			len(batch), len(instances))
	}
	classChannels := h.cfg.NumClasses - 1
	for i := range batch {
		if err := pyramid.ValidateLevels(batch[i], len(h.cfg.Strides), classChannels, h.payload.Channels()); err != nil {
			return loss.Record{}, fmt.Errorf("image %d: %w", i, err)
		}
		for l := range batch[i] {
			if batch[i][l].Height != batch[0][l].Height || batch[i][l].Width != batch[0][l].Width {
				return loss.Record{}, fmt.Errorf("image %d level %d shape differs from image 0", i, l)
			}
		}
	}

	sizes := make([]points.LevelSize, len(batch[0]))
	for l := range batch[0] {
		sizes[l] = points.LevelSize{Height: batch[0][l].Height, Width: batch[0][l].Width}
	}
	grid, err := points.Generate(sizes, h.cfg.Strides)
	if err != nil {
		return loss.Record{}, err
	}

	preds := &loss.Predictions{NumImages: len(batch)}
	targets := &assign.Targets{}
	for i := range batch {
		imgTargets, err := h.assigner.Assign(grid, instances[i])
		if err != nil {
			return loss.Record{}, fmt.Errorf("image %d: %w", i, err)
		}
		targets.Labels = append(targets.Labels, imgTargets.Labels...)
		targets.Boxes = append(targets.Boxes, imgTargets.Boxes...)
		targets.Rays = append(targets.Rays, imgTargets.Rays...)
		targets.Centerness = append(targets.Centerness, imgTargets.Centerness...)

		if err := h.flatten(preds, batch[i], grid, classChannels); err != nil {
			return loss.Record{}, fmt.Errorf("image %d: %w", i, err)
		}
	}

	rec, err := h.assembler.Compute(preds, targets)
	if err != nil {
		return loss.Record{}, err
	}
	slog.Debug("computed head loss",
		"images", len(batch),
		"points", len(targets.Labels),
		"positives", targets.NumPositive())
	return rec, nil
}

// flatten appends one image's predictions in level order then point order,
// matching the assigner's target layout.
func (h *Head) flatten(preds *loss.Predictions, levels []pyramid.Level, grid [][]points.Point, classChannels int) error {
	maskChannels := h.payload.Channels()
	for l := range levels {
		level := &levels[l]
		for idx, p := range grid[l] {
			logits := make([]float64, classChannels)
			for c := 0; c < classChannels; c++ {
				logits[c] = float64(level.Classes[idx*classChannels+c])
			}
			preds.ClassLogits = append(preds.ClassLogits, logits)
			preds.Centerness = append(preds.Centerness, float64(level.Centerness[idx]))
			preds.PointXY = append(preds.PointXY, [2]float64{p.X, p.Y})

			raw := make([]float64, maskChannels)
			for c := 0; c < maskChannels; c++ {
				raw[c] = float64(level.Masks[idx*maskChannels+c])
			}
			var decodedRays []float64
			if fp, ok := h.payload.(*codec.FourierPayload); ok {
				coeffs, err := fp.Coefficients(raw)
				if err != nil {
					return err
				}
				preds.Coeffs = append(preds.Coeffs, coeffs)
				if h.cfg.BoxFromMask {
					if decodedRays, err = h.payload.Rays(raw); err != nil {
						return err
					}
				}
			} else {
				rays, err := h.payload.Rays(raw)
				if err != nil {
					return err
				}
				preds.Rays = append(preds.Rays, rays)
				decodedRays = rays
			}

			var box [4]float64
			if h.cfg.BoxFromMask {
				// The box prediction is the decoded contour's extent.
				poly, err := h.codec.Decode(geometry.Point{X: p.X, Y: p.Y}, decodedRays, nil, nil)
				if err != nil {
					return err
				}
				ext := geometry.PolygonBounds(poly)
				box = [4]float64{p.X - ext.MinX, p.Y - ext.MinY, ext.MaxX - p.X, ext.MaxY - p.Y}
			} else {
				for c := 0; c < 4; c++ {
					box[c] = expFloat(level.Boxes[idx*4+c])
				}
			}
			preds.Boxes = append(preds.Boxes, box)
		}
	}
	return nil
}

func expFloat(v float32) float64 { return math.Exp(float64(v)) }
