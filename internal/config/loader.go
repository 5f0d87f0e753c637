package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "raydet"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "RAYDET"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
	// file is an explicitly requested config file; when set, the
	// search paths are bypassed and the file must be readable.
	file string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance so flag bindings work.
	return &Loader{v: viper.GetViper()}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it. When an explicit config file was registered via
// SetConfigFile, that file is loaded instead of the search paths.
func (l *Loader) Load() (*Config, error) {
	if l.file != "" {
		return l.loadFile(l.file)
	}

	// SetConfigName resets any explicit config file on the viper
	// instance, so it only runs on the search-path branch.
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")

	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return l.unmarshalAndValidate()
}

// LoadWithFile loads configuration from an explicit file path.
func (l *Loader) LoadWithFile(path string) (*Config, error) {
	if path == "" {
		return l.Load()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}
	return l.loadFile(path)
}

// loadFile reads an explicit config file. Unlike the search-path case,
// a read failure here is a hard error.
func (l *Loader) loadFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return l.unmarshalAndValidate()
}

func (l *Loader) unmarshalAndValidate() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SetConfigFile points the loader at an explicit configuration file.
func (l *Loader) SetConfigFile(path string) {
	l.file = path
	l.v.SetConfigFile(path)
}

// GetViper exposes the underlying viper instance for flag binding.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	l.v.AddConfigPath("$HOME")
	l.v.AddConfigPath("$HOME/.config/raydet")
	l.v.AddConfigPath("/etc/raydet")
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

func (l *Loader) setDefaults() {
	def := DefaultConfig()
	l.v.SetDefault("log_level", def.LogLevel)
	l.v.SetDefault("verbose", def.Verbose)

	l.v.SetDefault("head.num_classes", def.Head.NumClasses)
	l.v.SetDefault("head.strides", def.Head.Strides)
	l.v.SetDefault("head.regress_ranges", def.Head.RegressRanges)
	l.v.SetDefault("head.contour_points", def.Head.ContourPoints)
	l.v.SetDefault("head.use_fourier", def.Head.UseFourier)
	l.v.SetDefault("head.num_coe", def.Head.NumCoe)
	l.v.SetDefault("head.decode_coe", def.Head.DecodeCoe)
	l.v.SetDefault("head.bbox_from_mask", def.Head.BoxFromMask)
	l.v.SetDefault("head.mask_nms", def.Head.MaskNMS)
	l.v.SetDefault("head.score_thr", def.Head.ScoreThr)
	l.v.SetDefault("head.nms_iou", def.Head.NMSIoU)
	l.v.SetDefault("head.max_per_img", def.Head.MaxPerImg)
	l.v.SetDefault("head.nms_pre", def.Head.NMSPre)
	l.v.SetDefault("head.centerness_bias", def.Head.CenternessBias)

	l.v.SetDefault("model.path", def.Model.Path)
	l.v.SetDefault("model.input_width", def.Model.InputWidth)
	l.v.SetDefault("model.input_height", def.Model.InputHeight)
	l.v.SetDefault("model.num_threads", def.Model.NumThreads)

	l.v.SetDefault("server.host", def.Server.Host)
	l.v.SetDefault("server.port", def.Server.Port)
	l.v.SetDefault("server.timeout", def.Server.Timeout)
}
