package model

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/raydet/internal/mempool"
	"github.com/MeKo-Tech/raydet/internal/postprocess"
	"github.com/disintegration/imaging"
)

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsSupportedImage reports whether the path has a decodable image extension.
func IsSupportedImage(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// LoadImage opens and decodes an image file.
func LoadImage(path string) (image.Image, error) {
	if path == "" {
		return nil, errors.New("empty image path")
	}
	if !IsSupportedImage(path) {
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return img, nil
}

// prepareInput resizes img to exactly targetWidth x targetHeight, normalizes
// it to a [1, 3, H, W] float32 tensor in [0, 1], and records the per-axis
// scale factors that map original coordinates to network coordinates.
func prepareInput(img image.Image, targetWidth, targetHeight int) (nchwTensor, postprocess.Meta, error) {
	bounds := img.Bounds()
	origWidth := bounds.Dx()
	origHeight := bounds.Dy()
	if origWidth <= 0 || origHeight <= 0 {
		return nchwTensor{}, postprocess.Meta{}, fmt.Errorf("degenerate image size %dx%d", origWidth, origHeight)
	}

	resized := imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos)

	data, err := normalizeNCHW(resized)
	if err != nil {
		return nchwTensor{}, postprocess.Meta{}, err
	}
	tensor, err := newImageTensor(data, 3, targetHeight, targetWidth)
	if err != nil {
		return nchwTensor{}, postprocess.Meta{}, err
	}

	meta := postprocess.Meta{
		InputWidth:  targetWidth,
		InputHeight: targetHeight,
		ScaleX:      float64(targetWidth) / float64(origWidth),
		ScaleY:      float64(targetHeight) / float64(origHeight),
	}
	return tensor, meta, nil
}

// normalizeNCHW converts an NRGBA image into a planar RGB float32 buffer
// scaled to [0, 1]. The buffer comes from mempool and must be returned via
// mempool.PutFloat32 once the input tensor is destroyed.
func normalizeNCHW(img *image.NRGBA) ([]float32, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	plane := width * height

	out := mempool.GetFloat32(3 * plane)
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			p := row[x*4:]
			idx := y*width + x
			out[idx] = float32(p[0]) / 255.0
			out[plane+idx] = float32(p[1]) / 255.0
			out[2*plane+idx] = float32(p[2]) / 255.0
		}
	}
	return out, nil
}
