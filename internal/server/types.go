// Package server exposes the detector over HTTP: instance detection on
// uploaded images, a health probe, and Prometheus metrics.
package server

import (
	"errors"
	"image"
	"net/http"

	"github.com/MeKo-Tech/raydet/internal/head"
	"github.com/MeKo-Tech/raydet/internal/nms"
	"github.com/MeKo-Tech/raydet/internal/postprocess"
	"github.com/MeKo-Tech/raydet/internal/pyramid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// featureExtractor is the model surface the server needs.
type featureExtractor interface {
	Extract(img image.Image) ([]pyramid.Level, postprocess.Meta, error)
	Close() error
}

// Config holds the server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	head        *head.Head
	extractor   featureExtractor
	corsOrigin  string
	maxUploadMB int64
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// PointJSON is one contour vertex.
type PointJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectionJSON is one detected instance.
type DetectionJSON struct {
	Label   int         `json:"label"`
	Score   float64     `json:"score"`
	X1      float64     `json:"x1"`
	Y1      float64     `json:"y1"`
	X2      float64     `json:"x2"`
	Y2      float64     `json:"y2"`
	Contour []PointJSON `json:"contour"`
}

// DetectResult is the payload of a successful detection request.
type DetectResult struct {
	Detections []DetectionJSON `json:"detections"`
	Count      int             `json:"count"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Processing struct {
		TotalTimeMs int64 `json:"total_time_ms"`
	} `json:"processing"`
}

// DetectResponse is the POST /detect body.
type DetectResponse struct {
	Success bool          `json:"success"`
	Result  *DetectResult `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// ConfigResponse is the GET /config body.
type ConfigResponse struct {
	NumClasses    int     `json:"num_classes"`
	Strides       []int   `json:"strides"`
	ContourPoints int     `json:"contour_points"`
	UseFourier    bool    `json:"use_fourier"`
	ScoreThr      float64 `json:"score_thr"`
	NMSIoU        float64 `json:"nms_iou"`
	MaxPerImg     int     `json:"max_per_img"`
}

// NewServer creates a detection server around a head and feature extractor.
func NewServer(config Config, h *head.Head, extractor featureExtractor) (*Server, error) {
	if h == nil {
		return nil, errors.New("nil head")
	}
	if extractor == nil {
		return nil, errors.New("nil feature extractor")
	}
	corsOrigin := config.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxUploadMB := config.MaxUploadMB
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Server{
		head:        h,
		extractor:   extractor,
		corsOrigin:  corsOrigin,
		maxUploadMB: maxUploadMB,
	}, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.extractor != nil {
		return s.extractor.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/config", s.corsMiddleware(s.configHandler))
	mux.HandleFunc("/detect", s.corsMiddleware(s.detectHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

func detectionJSON(d nms.Detection) DetectionJSON {
	contour := make([]PointJSON, len(d.Polygon))
	for i, p := range d.Polygon {
		contour[i] = PointJSON{X: p.X, Y: p.Y}
	}
	return DetectionJSON{
		Label:   d.Label,
		Score:   d.Score,
		X1:      d.Box.MinX,
		Y1:      d.Box.MinY,
		X2:      d.Box.MaxX,
		Y2:      d.Box.MaxY,
		Contour: contour,
	}
}
