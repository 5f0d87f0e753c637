package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/raydet/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("encoding health response", "error", err)
	}
}

// configHandler reports the head configuration in effect.
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := s.head.Config()
	response := ConfigResponse{
		NumClasses:    cfg.NumClasses,
		Strides:       cfg.Strides,
		ContourPoints: cfg.ContourPoints,
		UseFourier:    cfg.UseFourier,
		ScoreThr:      cfg.ScoreThr,
		NMSIoU:        cfg.NMSIoU,
		MaxPerImg:     cfg.MaxPerImg,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("encoding config response", "error", err)
	}
}

// detectHandler runs instance detection on an uploaded image.
func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	img, err := s.parseImageUpload(w, r)
	if err != nil {
		detectRequestsTotal.WithLabelValues("error").Inc()
		return // parseImageUpload already wrote the response
	}

	levels, meta, err := s.extractor.Extract(img)
	if err != nil {
		detectRequestsTotal.WithLabelValues("error").Inc()
		s.writeErrorResponse(w, fmt.Sprintf("feature extraction failed: %v", err), http.StatusInternalServerError)
		return
	}

	detections, err := s.head.Detections(levels, meta)
	if err != nil {
		detectRequestsTotal.WithLabelValues("error").Inc()
		s.writeErrorResponse(w, fmt.Sprintf("decoding failed: %v", err), http.StatusInternalServerError)
		return
	}

	elapsed := time.Since(start)
	detectRequestsTotal.WithLabelValues("success").Inc()
	detectDuration.Observe(elapsed.Seconds())
	instancesDetected.Observe(float64(len(detections)))

	bounds := img.Bounds()
	result := &DetectResult{
		Detections: make([]DetectionJSON, len(detections)),
		Count:      len(detections),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
	}
	result.Processing.TotalTimeMs = elapsed.Milliseconds()
	for i, d := range detections {
		result.Detections[i] = detectionJSON(d)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(DetectResponse{Success: true, Result: result}); err != nil {
		slog.Error("encoding detect response", "error", err)
	}
}

// parseImageUpload reads and decodes the multipart "image" field. On error
// it writes the error response itself and returns a non-nil error.
func (s *Server) parseImageUpload(w http.ResponseWriter, r *http.Request) (image.Image, error) {
	maxBytes := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return nil, err
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return nil, err
	}
	defer func() { _ = file.Close() }()

	if header.Size > maxBytes {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return nil, fmt.Errorf("upload of %d bytes exceeds limit", header.Size)
	}
	uploadSizeBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return nil, err
	}
	return img, nil
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(DetectResponse{Success: false, Error: message}); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
