package cvdnn

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/persondetect/pkg/nn"
	"gocv.io/x/gocv"
)

// Detector is an nn.ObjectDetector that runs a YOLOv8 ONNX export through the OpenCV DNN module.
// It is slower than onnxruntime, but it needs nothing beyond OpenCV itself, so we use it as a fallback.
type Detector struct {
	config   *nn.ModelConfig
	nAnchors int
	net      *gocv.Net // nil once closed
}

func NewDetector(config *nn.ModelConfig, modelFile string) (*Detector, error) {
	if config.Width <= 0 || config.Height <= 0 || len(config.Classes) == 0 {
		return nil, errors.New("Model config must have a width, height, and classes")
	}
	net := gocv.ReadNetFromONNX(modelFile)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("OpenCV failed to load %v", modelFile)
	}
	return &Detector{
		config:   config,
		nAnchors: nn.YOLOv8Anchors(config.Width, config.Height),
		net:      &net,
	}, nil
}

func (d *Detector) Close() {
	if d.net == nil {
		return
	}
	d.net.Close()
	d.net = nil
}

func (d *Detector) Config() *nn.ModelConfig {
	return d.config
}

func (d *Detector) DetectObjects(img gocv.Mat, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if d.net == nil {
		return nil, errors.New("Detector is closed")
	}
	if img.Empty() {
		return nil, errors.New("Empty image")
	}
	lb := nn.MakeLetterbox(img.Cols(), img.Rows(), d.config.Width, d.config.Height)
	blob := lb.Blob(img)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	size := out.Size()
	if len(size) != 3 || size[1] != 4+len(d.config.Classes) || size[2] != d.nAnchors {
		return nil, fmt.Errorf("Unexpected model output shape %v", size)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	return nn.DecodeYOLOv8(data, len(d.config.Classes), d.nAnchors, lb, params)
}
