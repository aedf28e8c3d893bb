package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cyclopcam/persondetect/pkg/nnload"
	"github.com/cyclopcam/persondetect/pkg/videox"
)

// Config is everything that controls one run of persondetect.
// Values can come from a JSON file, and are then overridden by command line flags.
type Config struct {
	Input                string  `json:"input"`                // Input video file
	Output               string  `json:"output"`               // Output (annotated) video file
	Codec                string  `json:"codec"`                // Fourcc of the output video, eg "mp4v"
	Model                string  `json:"model"`                // Model name (eg "yolov8l") or path to an .onnx file
	ModelDir             string  `json:"modelDir"`             // Where named models live
	ModelURL             string  `json:"modelURL"`             // If not empty, download missing models from here
	Backend              string  `json:"backend"`              // auto, onnxruntime, opencv
	OnnxLibrary          string  `json:"onnxLibrary"`          // Path to libonnxruntime (empty = library default)
	UpscaleFactor        float64 `json:"upscaleFactor"`        // Frames are scaled by this before detection
	Tiled                bool    `json:"tiled"`                // Split large frames into model-sized tiles
	ProbabilityThreshold float32 `json:"probabilityThreshold"` // Minimum confidence of a detection
	NmsIouThreshold      float32 `json:"nmsIouThreshold"`      // Overlap above which duplicate boxes are merged
	ProgressInterval     int     `json:"progressInterval"`     // Log progress every N frames
	LabelsFile           string  `json:"labelsFile"`           // If not empty, write detections here as JSON
	LabelDB              string  `json:"labelDB"`              // If not empty, record detections in this sqlite DB
	SnapshotDir          string  `json:"snapshotDir"`          // If not empty, save annotated JPEG snapshots here
	SnapshotEvery        int     `json:"snapshotEvery"`        // Save a snapshot every N frames
}

// Default is crowd.mp4 in, output/result_final.mp4 out, using yolov8l
func Default() *Config {
	return &Config{
		Input:                "crowd.mp4",
		Output:               "output/result_final.mp4",
		Codec:                videox.DefaultCodec,
		Model:                "yolov8l",
		ModelDir:             "models",
		Backend:              string(nnload.BackendAuto),
		UpscaleFactor:        1.0,
		ProbabilityThreshold: 0.25,
		NmsIouThreshold:      0.7,
		ProgressInterval:     30,
		SnapshotEvery:        30,
	}
}

// LoadConfig reads a JSON file over the defaults, so the file only needs to hold what differs
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Input == "" {
		return errors.New("No input video specified")
	}
	if c.Output == "" {
		return errors.New("No output video specified")
	}
	if c.Model == "" {
		return errors.New("No model specified")
	}
	if !(c.UpscaleFactor > 0) {
		return fmt.Errorf("Upscale factor must be greater than zero (got %v)", c.UpscaleFactor)
	}
	if err := videox.ValidateFourCC(c.Codec); err != nil {
		return err
	}
	if _, err := nnload.ParseBackend(c.Backend); err != nil {
		return err
	}
	if c.ProbabilityThreshold < 0 || c.ProbabilityThreshold > 1 {
		return fmt.Errorf("Probability threshold must be between 0 and 1 (got %v)", c.ProbabilityThreshold)
	}
	if c.NmsIouThreshold < 0 || c.NmsIouThreshold > 1 {
		return fmt.Errorf("NMS IoU threshold must be between 0 and 1 (got %v)", c.NmsIouThreshold)
	}
	if c.ProgressInterval < 0 || c.SnapshotEvery < 0 {
		return errors.New("Intervals may not be negative")
	}
	return nil
}
