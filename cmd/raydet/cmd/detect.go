package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MeKo-Tech/raydet/internal/batch"
	"github.com/MeKo-Tech/raydet/internal/config"
	"github.com/MeKo-Tech/raydet/internal/head"
	"github.com/MeKo-Tech/raydet/internal/model"
	"github.com/MeKo-Tech/raydet/internal/nms"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// imageDetections is one image's detection output.
type imageDetections struct {
	File       string          `json:"file"`
	Count      int             `json:"count"`
	Detections []nms.Detection `json:"detections"`
}

// detectCmd represents the detect command.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect instances and their contours in images",
	Long: `Run instance detection on one or more image files. Each detection
carries a class label, a score, a bounding box, and a closed contour polygon.

Supported formats: JPEG, PNG, BMP, TIFF

Examples:
  raydet detect photo.jpg
  raydet detect *.png --format json
  raydet detect scene.jpg --output results.json`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input files provided")
		}

		cfg := GetConfig()
		if cfg.Model.Path == "" {
			return errors.New("no model configured; pass --model or set model.path")
		}

		h, extractor, err := buildDetector(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = extractor.Close() }()

		format, _ := cmd.Flags().GetString("format")
		outputFile, _ := cmd.Flags().GetString("output")
		workers, _ := cmd.Flags().GetInt("workers")
		recursive, _ := cmd.Flags().GetBool("recursive")

		paths, err := batch.Discover(args, recursive, nil, nil)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return errors.New("no image files found")
		}

		run := batch.Process(cmd.Context(), paths, workers, func(path string) ([]nms.Detection, error) {
			img, err := model.LoadImage(path)
			if err != nil {
				return nil, err
			}
			levels, meta, err := extractor.Extract(img)
			if err != nil {
				return nil, err
			}
			return h.Detections(levels, meta)
		})
		slog.Debug("batch finished",
			"images", len(run.Items),
			"failed", run.Failed(),
			"workers", run.WorkerCount,
			"duration", run.Duration)

		results := make([]imageDetections, 0, len(run.Items))
		for _, item := range run.Items {
			if item.Err != nil {
				return fmt.Errorf("processing %s: %w", item.Path, item.Err)
			}
			results = append(results, imageDetections{
				File:       item.Path,
				Count:      len(item.Detections),
				Detections: item.Detections,
			})
		}

		out, err := renderResults(results, format)
		if err != nil {
			return err
		}
		if outputFile != "" {
			return os.WriteFile(outputFile, []byte(out), 0o600)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

// buildDetector assembles the head and feature extractor from configuration.
func buildDetector(cfg *config.Config) (*head.Head, *model.Extractor, error) {
	headCfg := cfg.Head.ToHeadConfig()
	h, err := head.New(headCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("building head: %w", err)
	}

	maskChannels := headCfg.ContourPoints
	if headCfg.UseFourier {
		maskChannels = 2 * headCfg.NumCoe
	}
	extractor, err := model.New(model.Config{
		Path:          cfg.Model.Path,
		InputWidth:    cfg.Model.InputWidth,
		InputHeight:   cfg.Model.InputHeight,
		NumThreads:    cfg.Model.NumThreads,
		NumLevels:     len(headCfg.Strides),
		ClassChannels: headCfg.NumClasses - 1,
		MaskChannels:  maskChannels,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading model: %w", err)
	}
	return h, extractor, nil
}

func renderResults(results []imageDetections, format string) (string, error) {
	switch format {
	case outputFormatJSON:
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding results: %w", err)
		}
		return string(data), nil
	case outputFormatText:
		var b strings.Builder
		for _, res := range results {
			fmt.Fprintf(&b, "%s: %d instance(s)\n", res.File, res.Count)
			for _, d := range res.Detections {
				fmt.Fprintf(&b, "  label=%d score=%.3f box=(%.1f,%.1f)-(%.1f,%.1f) contour=%d points\n",
					d.Label, d.Score, d.Box.MinX, d.Box.MinY, d.Box.MaxX, d.Box.MaxY, len(d.Polygon))
			}
		}
		return strings.TrimRight(b.String(), "\n"), nil
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().StringP("format", "f", outputFormatJSON, "output format (json, text)")
	detectCmd.Flags().StringP("output", "o", "", "write results to file instead of stdout")
	detectCmd.Flags().IntP("workers", "w", 1, "number of parallel workers")
	detectCmd.Flags().BoolP("recursive", "r", false, "recurse into directories")
	detectCmd.Flags().Float64("score-thr", config.DefaultConfig().Head.ScoreThr,
		"minimum detection score")

	_ = viper.BindPFlag("head.score_thr", detectCmd.Flags().Lookup("score-thr"))
}
