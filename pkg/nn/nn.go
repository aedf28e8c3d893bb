package nn

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"gocv.io/x/gocv"
)

// Package nn is a Neural Network interface layer
// To load a model, use the nnload package.

const DefaultProbabilityThreshold = 0.25
const DefaultNmsIouThreshold = 0.7

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
	Unclipped            bool    // If true, don't clip boxes to the image boundaries
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
		Unclipped:            false,
	}
}

// Return the thresholds, with zero values replaced by the defaults
func (p *DetectionParams) thresholds() (prob, nms float32) {
	prob = p.ProbabilityThreshold
	nms = p.NmsIouThreshold
	if prob == 0 {
		prob = DefaultProbabilityThreshold
	}
	if nms == 0 {
		nms = DefaultNmsIouThreshold
	}
	return
}

type ThreadingMode int

const (
	ThreadingModeSingle   ThreadingMode = iota // Force the NN library to run inference on a single thread
	ThreadingModeParallel                      // Allow the NN library to run multiple threads while executing a model
)

// ObjectDetector is given an image, and returns zero or more detected objects
type ObjectDetector interface {
	// Close closes the detector (you MUST call this when finished, because there are C++ objects underneath)
	Close()

	// DetectObjects returns a list of objects detected in the image.
	// img is a 3 channel BGR image of any size. Boxes are returned in the
	// coordinate space of img.
	// You can create a default DetectionParams with NewDetectionParams()
	DetectObjects(img gocv.Mat, params *DetectionParams) ([]ObjectDetection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 640
	Height       int      `json:"height"`       // eg 640
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// DefaultModelConfig describes a stock ultralytics COCO export
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Architecture: "yolov8",
		Width:        640,
		Height:       640,
		Classes:      append([]string{}, COCOClasses...),
	}
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
