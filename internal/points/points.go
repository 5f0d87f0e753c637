// Package points generates the per-level evaluation locations of the
// feature pyramid in original-image coordinates.
package points

import "fmt"

// Point is a fixed evaluation location on one pyramid level.
type Point struct {
	Level  int
	X      float64
	Y      float64
	Stride int
}

// LevelSize is the spatial size of one pyramid level's feature map.
type LevelSize struct {
	Height int
	Width  int
}

// Generate produces the evaluation locations for every pyramid level. For a
// level with stride s, the point for feature cell (row, col) sits at
// (s*col + s/2, s*row + s/2) in image coordinates. Level order is preserved.
func Generate(sizes []LevelSize, strides []int) ([][]Point, error) {
	if len(sizes) != len(strides) {
		return nil, fmt.Errorf("level count mismatch: %d sizes vs %d strides", len(sizes), len(strides))
	}
	out := make([][]Point, len(sizes))
	for i, sz := range sizes {
		pts, err := generateLevel(i, sz, strides[i])
		if err != nil {
			return nil, err
		}
		out[i] = pts
	}
	return out, nil
}

func generateLevel(level int, sz LevelSize, stride int) ([]Point, error) {
	if sz.Height <= 0 || sz.Width <= 0 {
		return nil, fmt.Errorf("degenerate feature map size %dx%d at level %d", sz.Width, sz.Height, level)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("invalid stride %d at level %d", stride, level)
	}
	half := float64(stride) / 2
	pts := make([]Point, 0, sz.Height*sz.Width)
	for row := 0; row < sz.Height; row++ {
		for col := 0; col < sz.Width; col++ {
			pts = append(pts, Point{
				Level:  level,
				X:      float64(col*stride) + half,
				Y:      float64(row*stride) + half,
				Stride: stride,
			})
		}
	}
	return pts, nil
}

// Count returns the total number of points across all levels.
func Count(levels [][]Point) int {
	n := 0
	for _, pts := range levels {
		n += len(pts)
	}
	return n
}
