package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/cyclopcam/persondetect/pkg/detect"
	"gocv.io/x/gocv"
)

var (
	// Box and label background. gocv converts RGBA into BGR order, so this is pure green.
	HighlightColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	TextColor      = color.RGBA{R: 0, G: 0, B: 0, A: 0}
)

const (
	BoxThickness  = 2
	FontFace      = gocv.FontHersheySimplex
	FontScale     = 0.5
	FontThickness = 1
	LabelOffset   = 10 // Vertical distance between the box top and the label baseline
)

// Label is the text drawn above a detection, eg "person 87%".
// Percentages are rounded half to even.
func Label(confidence float32) string {
	return fmt.Sprintf("person %d%%", int(math.RoundToEven(float64(confidence)*100)))
}

// LabelBaseline returns the y coordinate of the label's baseline for a box whose top edge is at y1.
// The label goes above the box, unless that would put it within LabelOffset pixels of the top of the frame.
func LabelBaseline(y1 int) int {
	if y1-LabelOffset > LabelOffset {
		return y1 - LabelOffset
	}
	return y1 + LabelOffset
}

// LabelBackground is the filled rectangle behind a label of the given text size
func LabelBackground(x1, baseline int, textSize image.Point) image.Rectangle {
	return image.Rect(x1, baseline-textSize.Y, x1+textSize.X, baseline)
}

// Annotate draws a box and a confidence label for every detection onto frame, in order.
// Later labels may cover earlier ones. The frame is modified in place, and returned.
func Annotate(frame *gocv.Mat, detections []detect.Detection) *gocv.Mat {
	for _, det := range detections {
		gocv.Rectangle(frame, det.Rect(), HighlightColor, BoxThickness)

		label := Label(det.Confidence)
		size := gocv.GetTextSize(label, FontFace, FontScale, FontThickness)
		baseline := LabelBaseline(det.Y1)

		gocv.Rectangle(frame, LabelBackground(det.X1, baseline, size), HighlightColor, -1)
		gocv.PutText(frame, label, image.Pt(det.X1, baseline), FontFace, FontScale, TextColor, FontThickness)
	}
	return frame
}
