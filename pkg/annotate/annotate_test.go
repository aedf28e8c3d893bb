package annotate

import (
	"testing"

	"github.com/cyclopcam/persondetect/pkg/detect"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func greyFrame(width, height int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 100, 100, 0), height, width, gocv.MatTypeCV8UC3)
}

func pixel(m gocv.Mat, x, y int) []uint8 {
	return []uint8(m.GetVecbAt(y, x))
}

var green = []uint8{0, 255, 0}
var black = []uint8{0, 0, 0}
var grey = []uint8{100, 100, 100}

func TestLabel(t *testing.T) {
	require.Equal(t, "person 87%", Label(0.87))
	require.Equal(t, "person 0%", Label(0))
	require.Equal(t, "person 100%", Label(1))
	require.Equal(t, "person 50%", Label(0.5))
	// Half to even
	require.Equal(t, "person 12%", Label(0.125))
}

func TestLabelBaseline(t *testing.T) {
	require.Equal(t, 15, LabelBaseline(5))
	require.Equal(t, 40, LabelBaseline(50))
	require.Equal(t, 30, LabelBaseline(20))
	require.Equal(t, 11, LabelBaseline(21))
	require.Equal(t, 10, LabelBaseline(0))
}

func TestAnnotateNothing(t *testing.T) {
	frame := greyFrame(64, 48)
	defer frame.Close()
	before := frame.Clone()
	defer before.Close()

	out := Annotate(&frame, nil)
	require.Equal(t, &frame, out)
	require.Equal(t, before.ToBytes(), frame.ToBytes())
}

func TestAnnotateBox(t *testing.T) {
	frame := greyFrame(200, 150)
	defer frame.Close()

	det := detect.Detection{X1: 10, Y1: 10, X2: 50, Y2: 100, Confidence: 0.87}
	Annotate(&frame, []detect.Detection{det})

	// Box edges
	require.Equal(t, green, pixel(frame, 10, 60))
	require.Equal(t, green, pixel(frame, 50, 60))
	require.Equal(t, green, pixel(frame, 30, 100))
	// Inside and outside the box
	require.Equal(t, grey, pixel(frame, 30, 60))
	require.Equal(t, grey, pixel(frame, 150, 120))

	// Box is near the top, so the label is below the box top
	size := gocv.GetTextSize(Label(det.Confidence), FontFace, FontScale, FontThickness)
	require.Greater(t, size.X, 0)
	require.Greater(t, size.Y, 0)
	bg := LabelBackground(det.X1, 20, size)
	nBlack := 0
	for y := bg.Min.Y; y < bg.Max.Y; y++ {
		for x := bg.Min.X; x < bg.Max.X; x++ {
			p := pixel(frame, x, y)
			if p[0] == 0 && p[1] == 0 && p[2] == 0 {
				nBlack++
			} else {
				require.Equal(t, green, p, "pixel %v,%v", x, y)
			}
		}
	}
	require.Greater(t, nBlack, 0)
}

func TestAnnotateIsStable(t *testing.T) {
	dets := []detect.Detection{
		{X1: 10, Y1: 5, X2: 80, Y2: 90, Confidence: 0.61},
		{X1: 40, Y1: 50, X2: 120, Y2: 140, Confidence: 0.93},
	}
	frame := greyFrame(160, 160)
	defer frame.Close()
	Annotate(&frame, dets)
	once := frame.Clone()
	defer once.Close()

	// Drawing the same detections again paints the same pixels
	Annotate(&frame, dets)
	require.Equal(t, once.ToBytes(), frame.ToBytes())
}
