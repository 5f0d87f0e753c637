// Package pyramid defines the per-level raw prediction tensors exchanged
// with the feature extractor. Tensors are channels-last flat slices.
package pyramid

import "fmt"

// Level holds one pyramid level's raw head outputs for a single image.
// Classes holds numClasses-1 foreground logits per cell (sigmoid one-vs-all,
// background implicit); Masks holds K ray channels or 2C coefficient
// channels depending on the configured payload.
type Level struct {
	Height     int
	Width      int
	Classes    []float32
	Boxes      []float32
	Centerness []float32
	Masks      []float32
}

// Cells returns the number of spatial cells on the level.
func (l *Level) Cells() int { return l.Height * l.Width }

// ClassChannels returns the per-cell class channel count.
func (l *Level) ClassChannels() int {
	if l.Cells() == 0 {
		return 0
	}
	return len(l.Classes) / l.Cells()
}

// Validate checks the level's tensor shapes against the expected class and
// mask channel counts.
func (l *Level) Validate(classChannels, maskChannels int) error {
	cells := l.Cells()
	if l.Height <= 0 || l.Width <= 0 {
		return fmt.Errorf("degenerate level size %dx%d", l.Width, l.Height)
	}
	if len(l.Classes) != cells*classChannels {
		return fmt.Errorf("class tensor has %d values, want %d", len(l.Classes), cells*classChannels)
	}
	if len(l.Boxes) != cells*4 {
		return fmt.Errorf("box tensor has %d values, want %d", len(l.Boxes), cells*4)
	}
	if len(l.Centerness) != cells {
		return fmt.Errorf("centerness tensor has %d values, want %d", len(l.Centerness), cells)
	}
	if len(l.Masks) != cells*maskChannels {
		return fmt.Errorf("mask tensor has %d values, want %d", len(l.Masks), cells*maskChannels)
	}
	return nil
}

// ValidateLevels checks a full pyramid: one level per stride and consistent
// channel counts throughout.
func ValidateLevels(levels []Level, numStrides, classChannels, maskChannels int) error {
	if len(levels) != numStrides {
		return fmt.Errorf("level count mismatch: %d levels vs %d strides", len(levels), numStrides)
	}
	for i := range levels {
		if err := levels[i].Validate(classChannels, maskChannels); err != nil {
			return fmt.Errorf("level %d: %w", i, err)
		}
	}
	return nil
}
