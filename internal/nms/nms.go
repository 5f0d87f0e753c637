// Package nms provides multi-class non-maximum suppression carrying a
// polygon payload alongside every box.
package nms

import (
	"fmt"
	"sort"

	"github.com/MeKo-Tech/raydet/internal/geometry"
)

// Detection is one kept candidate after suppression.
type Detection struct {
	Box     geometry.Box
	Label   int
	Score   float64
	Polygon []geometry.Point
}

// Params controls suppression behavior.
type Params struct {
	ScoreThr  float64 // minimum raw class score for a candidate
	IoUThr    float64 // boxes above this IoU suppress each other per class
	MaxPerImg int     // cap on kept detections, <= 0 means unlimited
}

// MultiClass runs per-class greedy IoU suppression. scores[i] holds the
// per-class scores of candidate i with a leading background column at index
// 0, which is never selected. scoreFactors, when non-nil, are multiplied
// into the class scores after thresholding. Results are sorted by weighted
// score descending and truncated to MaxPerImg.
func MultiClass(boxes []geometry.Box, scores [][]float64, polygons [][]geometry.Point,
	scoreFactors []float64, p Params,
) ([]Detection, error) {
	n := len(boxes)
	if len(scores) != n || len(polygons) != n {
		return nil, fmt.Errorf("candidate length mismatch: boxes=%d scores=%d polygons=%d",
			n, len(scores), len(polygons))
	}
	if scoreFactors != nil && len(scoreFactors) != n {
		return nil, fmt.Errorf("candidate length mismatch: boxes=%d factors=%d", n, len(scoreFactors))
	}
	if n == 0 {
		return nil, nil
	}

	numColumns := len(scores[0])
	kept := make([]Detection, 0, n)
	for class := 1; class < numColumns; class++ {
		kept = append(kept, suppressClass(boxes, scores, polygons, scoreFactors, class, p)...)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if p.MaxPerImg > 0 && len(kept) > p.MaxPerImg {
		kept = kept[:p.MaxPerImg]
	}
	return kept, nil
}

func suppressClass(boxes []geometry.Box, scores [][]float64, polygons [][]geometry.Point,
	scoreFactors []float64, class int, p Params,
) []Detection {
	candidates := make([]Detection, 0)
	for i, s := range scores {
		if class >= len(s) || s[class] <= p.ScoreThr {
			continue
		}
		weighted := s[class]
		if scoreFactors != nil {
			weighted *= scoreFactors[i]
		}
		candidates = append(candidates, Detection{
			Box:     boxes[i],
			Label:   class,
			Score:   weighted,
			Polygon: polygons[i],
		})
	}
	if len(candidates) <= 1 {
		return candidates
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	suppressed := make([]bool, len(candidates))
	kept := make([]Detection, 0, len(candidates))
	for i := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])
		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] {
				continue
			}
			if geometry.IoU(candidates[i].Box, candidates[j].Box) > p.IoUThr {
				suppressed[j] = true
			}
		}
	}
	return kept
}
