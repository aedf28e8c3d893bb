// Package onnx runs YOLOv8 ONNX exports through onnxruntime.
package onnx

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/cyclopcam/persondetect/pkg/nn"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// onnxruntime has a single environment per process, but we can have several detectors.
// The environment lives as long as at least one detector does.
var envLock sync.Mutex
var envRefCount int

// SharedLibraryPath is the path to libonnxruntime. If empty, the library's default is used.
var SharedLibraryPath string

func acquireEnvironment() error {
	envLock.Lock()
	defer envLock.Unlock()
	if envRefCount == 0 && !ort.IsInitialized() {
		if SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("Failed to initialize onnxruntime: %w", err)
		}
	}
	envRefCount++
	return nil
}

func releaseEnvironment() {
	envLock.Lock()
	defer envLock.Unlock()
	envRefCount--
	if envRefCount == 0 {
		ort.DestroyEnvironment()
	}
}

// Detector is an nn.ObjectDetector backed by an onnxruntime session
type Detector struct {
	config   *nn.ModelConfig
	nAnchors int
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
}

// NewDetector loads an ONNX model file.
// The model must have a single input called "images" and a single output called "output0",
// which is what the ultralytics exporter produces.
func NewDetector(config *nn.ModelConfig, threadingMode nn.ThreadingMode, modelFile string) (*Detector, error) {
	if config.Width <= 0 || config.Height <= 0 || len(config.Classes) == 0 {
		return nil, errors.New("Model config must have a width, height, and classes")
	}
	if err := acquireEnvironment(); err != nil {
		return nil, err
	}

	d := &Detector{
		config:   config,
		nAnchors: nn.YOLOv8Anchors(config.Width, config.Height),
	}
	if err := d.initSession(threadingMode, modelFile); err != nil {
		d.destroy()
		releaseEnvironment()
		return nil, err
	}
	return d, nil
}

func (d *Detector) initSession(threadingMode nn.ThreadingMode, modelFile string) error {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("Error creating session options: %w", err)
	}
	defer options.Destroy()

	nThreads := 1
	if threadingMode == nn.ThreadingModeParallel {
		nThreads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(nThreads); err != nil {
		return err
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return err
	}

	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.config.Height), int64(d.config.Width)))
	if err != nil {
		return fmt.Errorf("Error creating input tensor: %w", err)
	}
	d.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(d.config.Classes)), int64(d.nAnchors)))
	if err != nil {
		return fmt.Errorf("Error creating output tensor: %w", err)
	}

	d.session, err = ort.NewAdvancedSession(
		modelFile,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{d.input},
		[]ort.ArbitraryTensor{d.output},
		options,
	)
	if err != nil {
		return fmt.Errorf("Error creating session for %v: %w", modelFile, err)
	}
	return nil
}

func (d *Detector) destroy() {
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
}

func (d *Detector) Close() {
	if d.session == nil {
		return
	}
	d.destroy()
	releaseEnvironment()
}

func (d *Detector) Config() *nn.ModelConfig {
	return d.config
}

func (d *Detector) DetectObjects(img gocv.Mat, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if img.Empty() {
		return nil, errors.New("Empty image")
	}
	lb := nn.MakeLetterbox(img.Cols(), img.Rows(), d.config.Width, d.config.Height)
	blob := lb.Blob(img)
	defer blob.Close()

	pixels, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	copy(d.input.GetData(), pixels)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("onnxruntime inference failed: %w", err)
	}
	return nn.DecodeYOLOv8(d.output.GetData(), len(d.config.Classes), d.nAnchors, lb, params)
}
