// Package model runs the ONNX feature extractor that produces the raw
// pyramid tensors consumed by the detection head. The exported graph emits
// four tensors per pyramid level in level-major order: class logits, box
// regression, centerness, and mask (ray or coefficient) channels, each in
// NCHW layout with batch size 1.
package model

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/raydet/internal/mempool"
	"github.com/MeKo-Tech/raydet/internal/postprocess"
	"github.com/MeKo-Tech/raydet/internal/pyramid"
	"github.com/yalue/onnxruntime_go"
)

// outputsPerLevel is the number of head tensors the graph emits per pyramid
// level: classes, boxes, centerness, masks.
const outputsPerLevel = 4

// Config configures the ONNX feature extractor.
type Config struct {
	Path        string // path to the exported .onnx graph
	InputWidth  int
	InputHeight int
	NumThreads  int // 0 leaves the runtime default

	// Expected head geometry, used to validate the graph's outputs.
	NumLevels     int
	ClassChannels int
	MaskChannels  int
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("model path is empty")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.NumLevels <= 0 {
		return fmt.Errorf("invalid level count %d", c.NumLevels)
	}
	if c.ClassChannels <= 0 || c.MaskChannels <= 0 {
		return fmt.Errorf("invalid channel counts: %d classes, %d mask", c.ClassChannels, c.MaskChannels)
	}
	return nil
}

// Extractor runs the exported graph and slices its outputs into pyramid
// levels. Safe for concurrent use.
type Extractor struct {
	cfg         Config
	session     *onnxruntime_go.DynamicAdvancedSession
	inputName   string
	outputNames []string
	mu          sync.RWMutex
}

// New loads the graph at cfg.Path and prepares a session for it.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	if err := setupRuntime(); err != nil {
		return nil, err
	}

	inputName, outputNames, err := inspectGraph(cfg)
	if err != nil {
		return nil, err
	}

	session, err := createSession(cfg, inputName, outputNames)
	if err != nil {
		return nil, err
	}

	slog.Debug("feature extractor ready",
		"model_path", cfg.Path,
		"input", inputName,
		"levels", cfg.NumLevels,
		"input_size", fmt.Sprintf("%dx%d", cfg.InputWidth, cfg.InputHeight))

	return &Extractor{
		cfg:         cfg,
		session:     session,
		inputName:   inputName,
		outputNames: outputNames,
	}, nil
}

// Close releases the underlying session. The runtime environment stays
// initialized for the life of the process.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	if err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}

// InputSize returns the fixed network input dimensions.
func (e *Extractor) InputSize() (width, height int) {
	return e.cfg.InputWidth, e.cfg.InputHeight
}

// Extract resizes img to the network input, runs the graph, and returns the
// per-level head tensors together with the rescale metadata needed to map
// detections back to the original image.
func (e *Extractor) Extract(img image.Image) ([]pyramid.Level, postprocess.Meta, error) {
	if img == nil {
		return nil, postprocess.Meta{}, errors.New("input image is nil")
	}

	tensor, meta, err := prepareInput(img, e.cfg.InputWidth, e.cfg.InputHeight)
	if err != nil {
		return nil, postprocess.Meta{}, fmt.Errorf("preprocessing: %w", err)
	}
	defer mempool.PutFloat32(tensor.data)

	raw, shapes, err := e.run(tensor)
	if err != nil {
		return nil, postprocess.Meta{}, err
	}

	levels, err := assembleLevels(raw, shapes, e.cfg)
	if err != nil {
		return nil, postprocess.Meta{}, err
	}
	return levels, meta, nil
}

// run executes the session on a single NCHW input tensor and copies out
// every output buffer.
func (e *Extractor) run(input nchwTensor) ([][]float32, [][]int64, error) {
	e.mu.RLock()
	session := e.session
	e.mu.RUnlock()
	if session == nil {
		return nil, nil, errors.New("extractor is closed")
	}

	inputTensor, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(input.shape...), input.data)
	if err != nil {
		return nil, nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer destroyValue(inputTensor, "input tensor")

	outputs := make([]onnxruntime_go.Value, len(e.outputNames))
	if err := session.Run([]onnxruntime_go.Value{inputTensor}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}

	raw := make([][]float32, len(outputs))
	shapes := make([][]int64, len(outputs))
	for i, out := range outputs {
		ft, ok := out.(*onnxruntime_go.Tensor[float32])
		if !ok {
			for _, o := range outputs {
				destroyValue(o, "output tensor")
			}
			return nil, nil, fmt.Errorf("output %d: expected float32 tensor, got %T", i, out)
		}
		data := ft.GetData()
		raw[i] = make([]float32, len(data))
		copy(raw[i], data)
		shapes[i] = out.GetShape()
	}
	for _, o := range outputs {
		destroyValue(o, "output tensor")
	}
	return raw, shapes, nil
}

func destroyValue(v onnxruntime_go.Value, what string) {
	if v == nil {
		return
	}
	if err := v.Destroy(); err != nil {
		slog.Warn("failed to destroy "+what, "error", err)
	}
}

// assembleLevels slices the flat output list into per-level head tensors,
// converting each NCHW buffer to the channels-last layout the head expects.
func assembleLevels(raw [][]float32, shapes [][]int64, cfg Config) ([]pyramid.Level, error) {
	levels := make([]pyramid.Level, cfg.NumLevels)
	for lvl := 0; lvl < cfg.NumLevels; lvl++ {
		base := lvl * outputsPerLevel

		h, w, err := spatialSize(shapes[base])
		if err != nil {
			return nil, fmt.Errorf("level %d classes: %w", lvl, err)
		}
		for off := 1; off < outputsPerLevel; off++ {
			oh, ow, err := spatialSize(shapes[base+off])
			if err != nil {
				return nil, fmt.Errorf("level %d output %d: %w", lvl, off, err)
			}
			if oh != h || ow != w {
				return nil, fmt.Errorf("level %d output %d: size %dx%d does not match %dx%d",
					lvl, off, ow, oh, w, h)
			}
		}

		levels[lvl] = pyramid.Level{
			Height:     h,
			Width:      w,
			Classes:    chwToChannelsLast(raw[base], shapes[base], h, w),
			Boxes:      chwToChannelsLast(raw[base+1], shapes[base+1], h, w),
			Centerness: chwToChannelsLast(raw[base+2], shapes[base+2], h, w),
			Masks:      chwToChannelsLast(raw[base+3], shapes[base+3], h, w),
		}
	}
	if err := pyramid.ValidateLevels(levels, cfg.NumLevels, cfg.ClassChannels, cfg.MaskChannels); err != nil {
		return nil, fmt.Errorf("graph outputs: %w", err)
	}
	return levels, nil
}

func spatialSize(shape []int64) (h, w int, err error) {
	if len(shape) != 4 {
		return 0, 0, fmt.Errorf("expected 4D tensor, got %dD", len(shape))
	}
	if shape[0] != 1 {
		return 0, 0, fmt.Errorf("expected batch size 1, got %d", shape[0])
	}
	return int(shape[2]), int(shape[3]), nil
}

// inspectGraph validates the model's signature: one NCHW image input and
// four outputs per configured pyramid level.
func inspectGraph(cfg Config) (string, []string, error) {
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.Path)
	if err != nil {
		return "", nil, fmt.Errorf("reading model info: %w", err)
	}
	if len(inputs) != 1 {
		return "", nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(inputs[0].Dimensions) != 4 {
		return "", nil, fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	want := cfg.NumLevels * outputsPerLevel
	if len(outputs) != want {
		return "", nil, fmt.Errorf("expected %d outputs (%d levels), got %d", want, cfg.NumLevels, len(outputs))
	}
	names := make([]string, len(outputs))
	for i, o := range outputs {
		names[i] = o.Name
	}
	return inputs[0].Name, names, nil
}

func createSession(cfg Config, inputName string, outputNames []string) (*onnxruntime_go.DynamicAdvancedSession, error) {
	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("setting thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(cfg.Path, []string{inputName}, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return session, nil
}

// setupRuntime points onnxruntime_go at a shared library and initializes the
// environment once. The RAYDET_ONNX_LIB environment variable overrides the
// search.
func setupRuntime() error {
	if onnxruntime_go.IsInitialized() {
		return nil
	}
	if err := setLibraryPath(); err != nil {
		return err
	}
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initializing onnxruntime: %w", err)
	}
	return nil
}

func setLibraryPath() error {
	if path := os.Getenv("RAYDET_ONNX_LIB"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("RAYDET_ONNX_LIB: %w", err)
		}
		onnxruntime_go.SetSharedLibraryPath(path)
		return nil
	}

	name, err := libraryName()
	if err != nil {
		return err
	}
	candidates := []string{
		filepath.Join("/usr/lib", name),
		filepath.Join("/usr/local/lib", name),
		filepath.Join("onnxruntime", "lib", name),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			onnxruntime_go.SetSharedLibraryPath(c)
			return nil
		}
	}
	// Fall back to the default loader search path.
	return nil
}

func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}
