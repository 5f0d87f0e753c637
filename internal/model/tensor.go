package model

import (
	"errors"
	"fmt"
)

// nchwTensor is a float32 buffer with an NCHW shape, ready to hand to the
// runtime.
type nchwTensor struct {
	data  []float32
	shape []int64
}

// newImageTensor wraps a single normalized image as a [1, C, H, W] tensor.
func newImageTensor(data []float32, c, h, w int) (nchwTensor, error) {
	if data == nil {
		return nchwTensor{}, errors.New("nil tensor data")
	}
	if want := c * h * w; len(data) != want {
		return nchwTensor{}, fmt.Errorf("tensor data length %d, want %d", len(data), want)
	}
	return nchwTensor{
		data:  data,
		shape: []int64{1, int64(c), int64(h), int64(w)},
	}, nil
}

// chwToChannelsLast reorders a [1, C, H, W] buffer into the channels-last
// layout used by pyramid.Level: cell-major with C contiguous values per cell.
func chwToChannelsLast(data []float32, shape []int64, h, w int) []float32 {
	channels := int(shape[1])
	out := make([]float32, len(data))
	plane := h * w
	for c := 0; c < channels; c++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[(y*w+x)*channels+c] = data[c*plane+y*w+x]
			}
		}
	}
	return out
}
