package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to our
// neural network implementations (onnxruntime and OpenCV DNN), so that you can just call one
// function to load a model, and not need to know about the implementation details.

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/persondetect/pkg/cvdnn"
	"github.com/cyclopcam/persondetect/pkg/nn"
	"github.com/cyclopcam/persondetect/pkg/onnx"
)

// Backend is an inference engine that can run our models
type Backend string

const (
	BackendAuto        Backend = "auto"        // onnxruntime, falling back to OpenCV DNN
	BackendONNXRuntime Backend = "onnxruntime" // onnxruntime only
	BackendOpenCV      Backend = "opencv"      // OpenCV DNN only
)

var AllBackends = []string{string(BackendAuto), string(BackendONNXRuntime), string(BackendOpenCV)}

func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendAuto, BackendONNXRuntime, BackendOpenCV:
		return Backend(s), nil
	case "":
		return BackendAuto, nil
	}
	return "", fmt.Errorf("Unknown NN backend '%v'. Valid backends are %v", s, strings.Join(AllBackends, ", "))
}

// Options controls where models are found, and how they're run
type Options struct {
	ModelDir      string           // Directory where named models live, eg "models"
	DownloadURL   string           // If not empty, missing models are downloaded from here
	Backend       Backend          // Which inference engine to use
	ThreadingMode nn.ThreadingMode // Single or multi threaded inference
}

func downloadFile(srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// ModelFiles resolves a model reference into the weights file and its JSON config.
// modelRef is either a model name such as "yolov8l", which lives in modelDir, or a path to an .onnx file.
func ModelFiles(modelDir, modelRef string) (weights, config string) {
	if strings.EqualFold(filepath.Ext(modelRef), ".onnx") {
		weights = modelRef
	} else {
		weights = filepath.Join(modelDir, modelRef+".onnx")
	}
	config = strings.TrimSuffix(weights, filepath.Ext(weights)) + ".json"
	return
}

// If the model files are not yet downloaded, then download them now.
// Returns immediately if the weights are already on disk.
// The JSON config is optional, so failure to download it is only a warning.
func DownloadModel(logs logs.Log, baseUrl, modelDir, modelName string) error {
	weights, config := ModelFiles(modelDir, modelName)
	if _, err := os.Stat(weights); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	baseUrl = strings.TrimSuffix(baseUrl, "/")
	for _, diskPath := range []string{weights, config} {
		networkUrl := baseUrl + "/" + filepath.Base(diskPath)
		logs.Infof("Downloading %v to %v", networkUrl, diskPath)
		if err := downloadFile(networkUrl, diskPath); err != nil {
			if diskPath == config {
				logs.Warnf("No model config at %v (%v). Assuming COCO classes", networkUrl, err)
				continue
			}
			return err
		}
	}
	return nil
}

// LoadModelConfig reads the JSON file that lives beside the weights.
// Stock ultralytics exports don't ship one, so if it's missing, we assume a 640x640 model.
// The classes are COCO, unless there is a class file (one name per line, eg "custom.txt")
// beside the JSON file.
func LoadModelConfig(logs logs.Log, filename string) (*nn.ModelConfig, error) {
	config, err := nn.LoadModelConfig(filename)
	if errors.Is(err, os.ErrNotExist) {
		config = nn.DefaultModelConfig()
		classFile := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".txt"
		classes, err := nn.LoadClassFile(classFile)
		if errors.Is(err, os.ErrNotExist) {
			logs.Infof("Model config %v not found. Assuming 640x640 COCO", filename)
			return config, nil
		} else if err != nil {
			return nil, fmt.Errorf("Failed to load class file %v: %w", classFile, err)
		}
		if len(classes) == 0 {
			return nil, fmt.Errorf("Class file %v is empty", classFile)
		}
		logs.Infof("Model config %v not found. Assuming 640x640, with %v classes from %v", filename, len(classes), classFile)
		config.Classes = classes
		return config, nil
	} else if err != nil {
		return nil, fmt.Errorf("Failed to load model config %v: %w", filename, err)
	}
	return config, nil
}

// LoadModel loads a neural network from disk.
// modelRef is a model name (eg "yolov8l") or a path to an .onnx file.
func LoadModel(logs logs.Log, modelRef string, options Options) (nn.ObjectDetector, error) {
	// modelRef examples:
	// yolov8l
	// yolo11s   (with yolo 11 they stopped using the "v" in the name)
	// /home/user/models/yolov8m.onnx

	if modelRef == "" {
		return nil, errors.New("No model specified")
	}
	backend := options.Backend
	if backend == "" {
		backend = BackendAuto
	}

	if options.DownloadURL != "" && !strings.EqualFold(filepath.Ext(modelRef), ".onnx") {
		if err := DownloadModel(logs, options.DownloadURL, options.ModelDir, modelRef); err != nil {
			return nil, fmt.Errorf("Download failed: %w", err)
		}
	}

	weights, configFile := ModelFiles(options.ModelDir, modelRef)
	if _, err := os.Stat(weights); err != nil {
		return nil, fmt.Errorf("Model weights %v: %w", weights, err)
	}
	config, err := LoadModelConfig(logs, configFile)
	if err != nil {
		return nil, err
	}

	if backend == BackendAuto || backend == BackendONNXRuntime {
		model, err := onnx.NewDetector(config, options.ThreadingMode, weights)
		if err == nil {
			logs.Infof("Loaded %v with onnxruntime", weights)
			return model, nil
		} else if backend == BackendONNXRuntime {
			return nil, err
		}
		logs.Warnf("Failed to load NN model '%v' with onnxruntime: %v", modelRef, err)
		logs.Infof("Falling back to OpenCV DNN")
	}

	model, err := cvdnn.NewDetector(config, weights)
	if err != nil {
		return nil, err
	}
	logs.Infof("Loaded %v with OpenCV DNN", weights)
	return model, nil
}
