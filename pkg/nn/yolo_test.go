package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestYOLOv8Anchors(t *testing.T) {
	require.Equal(t, 8400, YOLOv8Anchors(640, 640))
	require.Equal(t, 40*30+20*15+10*7, YOLOv8Anchors(320, 240))
}

func TestLetterboxMath(t *testing.T) {
	lb := MakeLetterbox(1280, 720, 640, 640)
	require.Equal(t, float32(0.5), lb.Scale)
	w, h := lb.ResizedSize()
	require.Equal(t, 640, w)
	require.Equal(t, 360, h)
	require.Equal(t, 0, lb.PadX)
	require.Equal(t, 140, lb.PadY)
	require.Equal(t, Box{X1: 200, Y1: 200, X2: 400, Y2: 400}, lb.ToImage(Box{X1: 100, Y1: 240, X2: 200, Y2: 340}))

	same := MakeLetterbox(640, 640, 640, 640)
	require.Equal(t, 0, same.PadX)
	require.Equal(t, 0, same.PadY)
	require.Equal(t, Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, same.ToImage(Box{X1: 1, Y1: 2, X2: 3, Y2: 4}))
}

func TestDecodeYOLOv8(t *testing.T) {
	nClasses := 2
	nAnchors := 4
	rows := [][]float32{
		{50, 52, 300, 10},    // cx
		{50, 50, 100, 10},    // cy
		{20, 20, 20, 5},      // w
		{40, 40, 20, 5},      // h
		{0.9, 0.8, 0.1, 0.2}, // class 0
		{0.1, 0.1, 0.7, 0.3}, // class 1
	}
	output := []float32{}
	for _, r := range rows {
		output = append(output, r...)
	}

	lb := MakeLetterbox(640, 640, 640, 640)
	objects, err := DecodeYOLOv8(output, nClasses, nAnchors, lb, NewDetectionParams())
	require.NoError(t, err)
	require.Equal(t, []ObjectDetection{
		{Class: 0, Confidence: 0.9, Box: Box{X1: 40, Y1: 30, X2: 60, Y2: 70}},
		{Class: 1, Confidence: 0.7, Box: Box{X1: 290, Y1: 90, X2: 310, Y2: 110}},
		{Class: 1, Confidence: 0.3, Box: Box{X1: 7.5, Y1: 7.5, X2: 12.5, Y2: 12.5}},
	}, objects)

	// A higher threshold drops the weak anchor
	params := NewDetectionParams()
	params.ProbabilityThreshold = 0.5
	objects, err = DecodeYOLOv8(output, nClasses, nAnchors, lb, params)
	require.NoError(t, err)
	require.Len(t, objects, 2)

	_, err = DecodeYOLOv8(output[:10], nClasses, nAnchors, lb, NewDetectionParams())
	require.Error(t, err)
}
