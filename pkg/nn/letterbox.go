package nn

import (
	"image"

	"github.com/chewxy/math32"
	"gocv.io/x/gocv"
)

// Letterbox describes how an image of arbitrary size is fitted into the fixed input
// size of a model: uniformly scaled, and centered on a grey canvas.
type Letterbox struct {
	Scale       float32
	PadX        int
	PadY        int
	ImageWidth  int
	ImageHeight int
	ModelWidth  int
	ModelHeight int
}

// The grey that ultralytics pads with
const letterboxFill = 114

func MakeLetterbox(imageWidth, imageHeight, modelWidth, modelHeight int) Letterbox {
	scale := math32.Min(float32(modelWidth)/float32(imageWidth), float32(modelHeight)/float32(imageHeight))
	l := Letterbox{
		Scale:       scale,
		ImageWidth:  imageWidth,
		ImageHeight: imageHeight,
		ModelWidth:  modelWidth,
		ModelHeight: modelHeight,
	}
	nw, nh := l.ResizedSize()
	l.PadX = (modelWidth - nw) / 2
	l.PadY = (modelHeight - nh) / 2
	return l
}

// Size of the image after scaling, but before padding
func (l Letterbox) ResizedSize() (width, height int) {
	width = min(l.ModelWidth, int(math32.Round(float32(l.ImageWidth)*l.Scale)))
	height = min(l.ModelHeight, int(math32.Round(float32(l.ImageHeight)*l.Scale)))
	return
}

// ToImage maps a box from model space back into image space
func (l Letterbox) ToImage(b Box) Box {
	px := float32(l.PadX)
	py := float32(l.PadY)
	return Box{
		X1: (b.X1 - px) / l.Scale,
		Y1: (b.Y1 - py) / l.Scale,
		X2: (b.X2 - px) / l.Scale,
		Y2: (b.Y2 - py) / l.Scale,
	}
}

// Apply returns a new model-sized BGR image. The caller must Close it.
func (l Letterbox) Apply(img gocv.Mat) gocv.Mat {
	nw, nh := l.ResizedSize()
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(nw, nh), 0, 0, gocv.InterpolationLinear)

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(letterboxFill, letterboxFill, letterboxFill, 0), l.ModelHeight, l.ModelWidth, gocv.MatTypeCV8UC3)
	roi := canvas.Region(image.Rect(l.PadX, l.PadY, l.PadX+nw, l.PadY+nh))
	resized.CopyTo(&roi)
	roi.Close()
	return canvas
}

// Blob returns the letterboxed image as a 1x3xHxW float32 RGB tensor, normalized to [0,1].
// The caller must Close it.
func (l Letterbox) Blob(img gocv.Mat) gocv.Mat {
	canvas := l.Apply(img)
	defer canvas.Close()
	return gocv.BlobFromImage(canvas, 1.0/255.0, image.Pt(l.ModelWidth, l.ModelHeight), gocv.NewScalar(0, 0, 0, 0), true, false)
}
