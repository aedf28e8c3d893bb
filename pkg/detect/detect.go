package detect

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/persondetect/pkg/nn"
	"github.com/cyclopcam/persondetect/pkg/nnload"
	"gocv.io/x/gocv"
)

var ErrEmptyFrame = errors.New("Empty frame")
var ErrInvalidUpscaleFactor = errors.New("Upscale factor must be greater than zero")
var ErrNoPersonClass = errors.New("Model has no 'person' class")

// PersonClassName is the name that the model's class list uses for people
const PersonClassName = "person"

// Detection is a person found in a frame, in the pixel coordinates of that frame
type Detection struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float32 `json:"confidence"`
}

func (d Detection) Width() int {
	return d.X2 - d.X1
}

func (d Detection) Height() int {
	return d.Y2 - d.Y1
}

func (d Detection) Rect() image.Rectangle {
	return image.Rect(d.X1, d.Y1, d.X2, d.Y2)
}

// Config is fixed for the lifetime of a Detector
type Config struct {
	ModelRef      string             // Model name (eg "yolov8l") or path to an .onnx file
	UpscaleFactor float64            // Frames are scaled by this before inference. 1.0 = no scaling.
	Tiled         bool               // Split frames that are larger than the model into tiles
	Params        nn.DetectionParams // Thresholds. Zero values use the defaults.
	Load          nnload.Options     // Where to find the model, and how to run it
}

func (c *Config) Validate() error {
	if c.ModelRef == "" {
		return errors.New("No model specified")
	}
	return validateUpscaleFactor(c.UpscaleFactor)
}

func validateUpscaleFactor(f float64) error {
	if !(f > 0) || math.IsInf(f, 1) {
		return fmt.Errorf("%w (got %v)", ErrInvalidUpscaleFactor, f)
	}
	return nil
}

// Detector finds people in frames.
// It owns its model, which is loaded once, and reused for every frame.
type Detector struct {
	model       nn.ObjectDetector
	personClass int
	rescale     Rescaler
	params      nn.DetectionParams
}

// New loads the model named in config
func New(logs logs.Log, config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	model, err := nnload.LoadModel(logs, config.ModelRef, config.Load)
	if err != nil {
		return nil, fmt.Errorf("Failed to load model %v: %w", config.ModelRef, err)
	}
	if config.Tiled {
		model = nn.NewTiledDetector(model)
	}
	d, err := NewWithModel(model, config.UpscaleFactor, &config.Params)
	if err != nil {
		model.Close()
		return nil, err
	}
	if !d.rescale.Identity() {
		logs.Infof("Frames will be scaled by %v before detection", config.UpscaleFactor)
	}
	return d, nil
}

// NewWithModel creates a Detector around an already loaded model.
// On success, the Detector takes ownership of the model. On failure, the caller still owns it.
// If params is nil, the default thresholds are used.
// The model's class list must include "person". For COCO models this is class 0.
func NewWithModel(model nn.ObjectDetector, upscaleFactor float64, params *nn.DetectionParams) (*Detector, error) {
	if err := validateUpscaleFactor(upscaleFactor); err != nil {
		return nil, err
	}
	personClass := nn.ClassIndex(model.Config().Classes, PersonClassName)
	if personClass == -1 {
		return nil, ErrNoPersonClass
	}
	if params == nil {
		params = nn.NewDetectionParams()
	}
	return &Detector{
		model:       model,
		personClass: personClass,
		rescale:     Rescaler{Factor: upscaleFactor},
		params:      *params,
	}, nil
}

func (d *Detector) Close() {
	d.model.Close()
}

func (d *Detector) ModelConfig() *nn.ModelConfig {
	return d.model.Config()
}

// Detect returns the people in frame, in the order that the model produced them.
// frame is not modified.
func (d *Detector) Detect(frame gocv.Mat) ([]Detection, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	input := frame
	if !d.rescale.Identity() {
		interp := gocv.InterpolationCubic
		if d.rescale.Factor < 1 {
			interp = gocv.InterpolationArea
		}
		width, height := d.rescale.ScaledSize(frame.Cols(), frame.Rows())
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("Frame of %v x %v is too small to scale by %v", frame.Cols(), frame.Rows(), d.rescale.Factor)
		}
		scaled := gocv.NewMat()
		defer scaled.Close()
		gocv.Resize(frame, &scaled, image.Point{X: width, Y: height}, 0, 0, interp)
		input = scaled
	}

	objects, err := d.model.DetectObjects(input, &d.params)
	if err != nil {
		return nil, fmt.Errorf("Object detection failed: %w", err)
	}

	detections := make([]Detection, 0, len(objects))
	for _, obj := range objects {
		if obj.Class != d.personClass {
			continue
		}
		x1 := int(obj.Box.X1)
		y1 := int(obj.Box.Y1)
		x2 := int(obj.Box.X2)
		y2 := int(obj.Box.Y2)
		if !d.rescale.Identity() {
			x1, y1, x2, y2 = d.rescale.BoxToOriginal(x1, y1, x2, y2)
		}
		detections = append(detections, Detection{
			X1:         x1,
			Y1:         y1,
			X2:         x2,
			Y2:         y2,
			Confidence: obj.Confidence,
		})
	}
	return detections, nil
}
