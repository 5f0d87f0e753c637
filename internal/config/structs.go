// Package config holds the application configuration for the raydet CLI and
// server, loaded from files, environment variables, and flags.
package config

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/raydet/internal/assign"
	"github.com/MeKo-Tech/raydet/internal/head"
)

// Config is the complete raydet application configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Head   HeadConfig   `mapstructure:"head" yaml:"head" json:"head"`
	Model  ModelConfig  `mapstructure:"model" yaml:"model" json:"model"`
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// RangeConfig is one pyramid level's regression range.
type RangeConfig struct {
	Min float64 `mapstructure:"min" yaml:"min" json:"min"`
	Max float64 `mapstructure:"max" yaml:"max" json:"max"`
}

// HeadConfig configures the detection head.
type HeadConfig struct {
	NumClasses     int           `mapstructure:"num_classes" yaml:"num_classes" json:"num_classes"`
	Strides        []int         `mapstructure:"strides" yaml:"strides" json:"strides"`
	RegressRanges  []RangeConfig `mapstructure:"regress_ranges" yaml:"regress_ranges" json:"regress_ranges"`
	ContourPoints  int           `mapstructure:"contour_points" yaml:"contour_points" json:"contour_points"`
	UseFourier     bool          `mapstructure:"use_fourier" yaml:"use_fourier" json:"use_fourier"`
	NumCoe         int           `mapstructure:"num_coe" yaml:"num_coe" json:"num_coe"`
	DecodeCoe      int           `mapstructure:"decode_coe" yaml:"decode_coe" json:"decode_coe"`
	BoxFromMask    bool          `mapstructure:"bbox_from_mask" yaml:"bbox_from_mask" json:"bbox_from_mask"`
	MaskNMS        bool          `mapstructure:"mask_nms" yaml:"mask_nms" json:"mask_nms"`
	ScoreThr       float64       `mapstructure:"score_thr" yaml:"score_thr" json:"score_thr"`
	NMSIoU         float64       `mapstructure:"nms_iou" yaml:"nms_iou" json:"nms_iou"`
	MaxPerImg      int           `mapstructure:"max_per_img" yaml:"max_per_img" json:"max_per_img"`
	NMSPre         int           `mapstructure:"nms_pre" yaml:"nms_pre" json:"nms_pre"`
	CenternessBias float64       `mapstructure:"centerness_bias" yaml:"centerness_bias" json:"centerness_bias"`
}

// ModelConfig configures the ONNX feature-extractor adapter.
type ModelConfig struct {
	Path        string `mapstructure:"path" yaml:"path" json:"path"`
	InputWidth  int    `mapstructure:"input_width" yaml:"input_width" json:"input_width"`
	InputHeight int    `mapstructure:"input_height" yaml:"input_height" json:"input_height"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host    string `mapstructure:"host" yaml:"host" json:"host"`
	Port    int    `mapstructure:"port" yaml:"port" json:"port"`
	Timeout int    `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	hd := head.DefaultConfig()
	ranges := make([]RangeConfig, len(hd.RegressRanges))
	for i, r := range hd.RegressRanges {
		ranges[i] = RangeConfig{Min: r.Min, Max: r.Max}
	}
	return &Config{
		LogLevel: "info",
		Head: HeadConfig{
			NumClasses:     hd.NumClasses,
			Strides:        hd.Strides,
			RegressRanges:  ranges,
			ContourPoints:  hd.ContourPoints,
			NumCoe:         hd.NumCoe,
			ScoreThr:       hd.ScoreThr,
			NMSIoU:         hd.NMSIoU,
			MaxPerImg:      hd.MaxPerImg,
			NMSPre:         hd.NMSPre,
			CenternessBias: hd.CenternessBias,
		},
		Model: ModelConfig{
			InputWidth:  800,
			InputHeight: 800,
			NumThreads:  0,
		},
		Server: ServerConfig{
			Host:    "localhost",
			Port:    8080,
			Timeout: 30,
		},
	}
}

// ToHeadConfig converts the head section to the head package's config.
func (c *HeadConfig) ToHeadConfig() head.Config {
	ranges := make([]assign.RegressRange, len(c.RegressRanges))
	for i, r := range c.RegressRanges {
		ranges[i] = assign.RegressRange{Min: r.Min, Max: r.Max}
	}
	return head.Config{
		NumClasses:     c.NumClasses,
		Strides:        c.Strides,
		RegressRanges:  ranges,
		ContourPoints:  c.ContourPoints,
		UseFourier:     c.UseFourier,
		NumCoe:         c.NumCoe,
		DecodeCoe:      c.DecodeCoe,
		BoxFromMask:    c.BoxFromMask,
		MaskNMS:        c.MaskNMS,
		ScoreThr:       c.ScoreThr,
		NMSIoU:         c.NMSIoU,
		MaxPerImg:      c.MaxPerImg,
		NMSPre:         c.NMSPre,
		CenternessBias: c.CenternessBias,
		ClampToImage:   true,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []string

	level := strings.ToLower(c.LogLevel)
	switch level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.LogLevel))
	}

	hd := c.Head.ToHeadConfig()
	if err := hd.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Model.InputWidth <= 0 || c.Model.InputHeight <= 0 {
		errs = append(errs, fmt.Sprintf("invalid model input size %dx%d", c.Model.InputWidth, c.Model.InputHeight))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
