package cmd

import (
	"testing"

	"github.com/MeKo-Tech/raydet/internal/geometry"
	"github.com/MeKo-Tech/raydet/internal/nms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults() []imageDetections {
	return []imageDetections{{
		File:  "scene.jpg",
		Count: 1,
		Detections: []nms.Detection{{
			Box:     geometry.NewBox(10, 20, 110, 220),
			Label:   3,
			Score:   0.91,
			Polygon: []geometry.Point{{X: 10, Y: 20}, {X: 110, Y: 20}, {X: 60, Y: 220}},
		}},
	}}
}

func TestRenderResults_JSON(t *testing.T) {
	out, err := renderResults(sampleResults(), outputFormatJSON)
	require.NoError(t, err)
	assert.Contains(t, out, `"file": "scene.jpg"`)
	assert.Contains(t, out, `"Score": 0.91`)
}

func TestRenderResults_Text(t *testing.T) {
	out, err := renderResults(sampleResults(), outputFormatText)
	require.NoError(t, err)
	assert.Contains(t, out, "scene.jpg: 1 instance(s)")
	assert.Contains(t, out, "label=3")
	assert.Contains(t, out, "contour=3 points")
}

func TestRenderResults_UnknownFormat(t *testing.T) {
	_, err := renderResults(sampleResults(), "yaml")
	require.Error(t, err)
}
