package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/persondetect/pkg/annotate"
	"github.com/cyclopcam/persondetect/pkg/detect"
	"github.com/cyclopcam/persondetect/pkg/labeldb"
	"github.com/cyclopcam/persondetect/pkg/nn"
	"github.com/cyclopcam/persondetect/pkg/perfstats"
	"github.com/cyclopcam/persondetect/pkg/videox"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type memorySource struct {
	frames []gocv.Mat
	next   int
	closed bool
	err    error // returned instead of the frame at index failAt
	failAt int
}

func (s *memorySource) NextFrame(dst *gocv.Mat) error {
	if s.err != nil && s.next == s.failAt {
		return s.err
	}
	if s.next >= len(s.frames) {
		return io.EOF
	}
	s.frames[s.next].CopyTo(dst)
	s.next++
	return nil
}

func (s *memorySource) FPS() float64 { return 25 }
func (s *memorySource) Width() int   { return s.frames[0].Cols() }
func (s *memorySource) Height() int  { return s.frames[0].Rows() }
func (s *memorySource) Close() error {
	s.closed = true
	return nil
}

type memorySink struct {
	fps    float64
	width  int
	height int
	frames []gocv.Mat
	closed bool
}

func (s *memorySink) WriteFrame(frame gocv.Mat) error {
	s.frames = append(s.frames, frame.Clone())
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

func (s *memorySink) release() {
	for _, f := range s.frames {
		f.Close()
	}
}

// scriptedModel returns one canned list of predictions per call
type scriptedModel struct {
	perFrame [][]nn.ObjectDetection
	calls    int
	err      error
}

func (m *scriptedModel) Close() {}

func (m *scriptedModel) Config() *nn.ModelConfig {
	return nn.DefaultModelConfig()
}

func (m *scriptedModel) DetectObjects(img gocv.Mat, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	defer func() { m.calls++ }()
	if m.err != nil {
		return nil, m.err
	}
	if m.calls < len(m.perFrame) {
		return m.perFrame[m.calls], nil
	}
	return nil, nil
}

func makeFrames(n, width, height int) []gocv.Mat {
	frames := []gocv.Mat{}
	for i := 0; i < n; i++ {
		frames = append(frames, gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(20*i), 90, 160, 0), height, width, gocv.MatTypeCV8UC3))
	}
	return frames
}

func closeFrames(frames []gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}

func openers(src *memorySource, sink *memorySink) (OpenSourceFunc, OpenSinkFunc) {
	return func() (FrameSource, error) {
			return src, nil
		}, func(fps float64, width, height int) (FrameSink, error) {
			sink.fps = fps
			sink.width = width
			sink.height = height
			return sink, nil
		}
}

func TestTwoFrameVideo(t *testing.T) {
	log := logs.NewTestingLog(t)
	input := makeFrames(2, 160, 120)
	defer closeFrames(input)

	model := &scriptedModel{
		perFrame: [][]nn.ObjectDetection{
			{{Class: nn.COCOPerson, Confidence: 0.87, Box: nn.Box{X1: 10, Y1: 10, X2: 50, Y2: 100}}},
			{},
		},
	}
	detector, err := detect.NewWithModel(model, 1.0, nil)
	require.NoError(t, err)
	defer detector.Close()

	src := &memorySource{frames: input}
	sink := &memorySink{}
	defer sink.release()
	openSource, openSink := openers(src, sink)

	timing := perfstats.NewStages()
	result, err := Run(log, detector, openSource, openSink, Options{CollectLabels: true, Timing: timing})
	require.NoError(t, err)
	require.Equal(t, 2, result.Frames)
	require.Equal(t, 1, result.Detections)
	require.True(t, src.closed)
	require.True(t, sink.closed)
	require.Equal(t, 25.0, sink.fps)
	require.Equal(t, 160, sink.width)
	require.Equal(t, 120, sink.height)
	require.Len(t, sink.frames, 2)
	require.Equal(t, int64(2), timing.Get("detect").Samples)

	// Frame 1 has exactly the box and the "person 87%" label
	expected := input[0].Clone()
	defer expected.Close()
	annotate.Annotate(&expected, []detect.Detection{{X1: 10, Y1: 10, X2: 50, Y2: 100, Confidence: 0.87}})
	require.Equal(t, expected.ToBytes(), sink.frames[0].ToBytes())
	require.NotEqual(t, input[0].ToBytes(), sink.frames[0].ToBytes())
	require.Equal(t, []uint8{0, 255, 0}, []uint8(sink.frames[0].GetVecbAt(60, 10)))

	// Frame 2 is untouched
	require.Equal(t, input[1].ToBytes(), sink.frames[1].ToBytes())

	require.Equal(t, &nn.VideoLabels{
		Classes: []string{"person"},
		Width:   160,
		Height:  120,
		Frames: []*nn.ImageLabels{
			{Frame: 0, Objects: []nn.ObjectLabel{{Class: 0, Confidence: 0.87, Box: nn.Rect{X: 10, Y: 10, Width: 40, Height: 90}}}},
		},
	}, result.Labels)
}

func TestSourceUnavailable(t *testing.T) {
	log := logs.NewTestingLog(t)
	sinkOpened := false
	_, err := Run(log, nil,
		func() (FrameSource, error) {
			return nil, errors.New("no such file")
		},
		func(fps float64, width, height int) (FrameSink, error) {
			sinkOpened = true
			return nil, nil
		}, Options{})
	require.ErrorIs(t, err, videox.ErrSourceUnavailable)
	require.False(t, sinkOpened)

	_, err = Run(log, nil, FileSource(filepath.Join(t.TempDir(), "missing.mp4")), FileSink(filepath.Join(t.TempDir(), "out.mp4"), "mp4v"), Options{})
	require.ErrorIs(t, err, videox.ErrSourceUnavailable)
}

func TestSinkUnavailableReleasesSource(t *testing.T) {
	log := logs.NewTestingLog(t)
	input := makeFrames(1, 32, 32)
	defer closeFrames(input)
	src := &memorySource{frames: input}

	_, err := Run(log, nil,
		func() (FrameSource, error) {
			return src, nil
		},
		func(fps float64, width, height int) (FrameSink, error) {
			return nil, errors.New("disk full")
		}, Options{})
	require.ErrorIs(t, err, videox.ErrSinkUnavailable)
	require.True(t, src.closed)
	require.Equal(t, 0, src.next)
}

func TestFailuresAbortTheRun(t *testing.T) {
	log := logs.NewTestingLog(t)
	input := makeFrames(3, 32, 32)
	defer closeFrames(input)

	// Inference failure
	boom := errors.New("inference exploded")
	detector, err := detect.NewWithModel(&scriptedModel{err: boom}, 1.0, nil)
	require.NoError(t, err)
	src := &memorySource{frames: input}
	sink := &memorySink{}
	defer sink.release()
	openSource, openSink := openers(src, sink)
	_, err = Run(log, detector, openSource, openSink, Options{})
	require.ErrorIs(t, err, boom)
	require.True(t, src.closed)
	require.True(t, sink.closed)
	require.Empty(t, sink.frames)

	// Read failure on the second frame
	corrupt := errors.New("corrupt frame")
	detector, err = detect.NewWithModel(&scriptedModel{}, 1.0, nil)
	require.NoError(t, err)
	src = &memorySource{frames: input, err: corrupt, failAt: 1}
	sink2 := &memorySink{}
	defer sink2.release()
	openSource, openSink = openers(src, sink2)
	_, err = Run(log, detector, openSource, openSink, Options{})
	require.ErrorIs(t, err, corrupt)
	require.Len(t, sink2.frames, 1)
	require.True(t, src.closed)
	require.True(t, sink2.closed)
}

func TestSideOutputs(t *testing.T) {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	input := makeFrames(4, 64, 64)
	defer closeFrames(input)

	person := nn.ObjectDetection{Class: nn.COCOPerson, Confidence: 0.7, Box: nn.Box{X1: 4, Y1: 30, X2: 20, Y2: 60}}
	detector, err := detect.NewWithModel(&scriptedModel{perFrame: [][]nn.ObjectDetection{{person}, {}, {person, person}}}, 1.0, nil)
	require.NoError(t, err)

	dbFile := filepath.Join(dir, "labels.sqlite")

	src := &memorySource{frames: input}
	sink := &memorySink{}
	defer sink.release()
	openSource, openSink := openers(src, sink)
	result, err := Run(log, detector, openSource, openSink, Options{
		CollectLabels:    true,
		OpenLabelDB:      LabelDBFile(log, dbFile, "memory", "memory", "scripted", 1.0),
		Snapshots:        &videox.Snapshots{Dir: filepath.Join(dir, "snaps"), Every: 2},
		ProgressInterval: 1,
	})
	require.NoError(t, err)
	require.Equal(t, 4, result.Frames)
	require.Equal(t, 3, result.Detections)

	require.NotNil(t, result.LabelRun)
	require.Equal(t, int64(4), result.LabelRun.Frames)
	require.False(t, result.LabelRun.FinishedAt.IsZero())

	db, err := labeldb.Open(log, dbFile)
	require.NoError(t, err)
	defer db.Close()
	rows, err := db.Detections(result.LabelRun.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, int64(2), rows[2].Frame)

	snaps, err := filepath.Glob(filepath.Join(dir, "snaps", "*.jpg"))
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	labelsFile := filepath.Join(dir, "out", "labels.json")
	require.NoError(t, WriteLabels(labelsFile, result.Labels))
	raw, err := os.ReadFile(labelsFile)
	require.NoError(t, err)
	decoded := nn.VideoLabels{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Frames, 2)
	require.Equal(t, 2, decoded.Frames[1].Frame)
	// Frame 0 still names its index
	require.Contains(t, string(raw), `"frame": 0,`)
}

func TestLabelDBOnlyOpenedOnceVideoIsOpen(t *testing.T) {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "labels.sqlite")
	dbOpened := false
	openDB := func() (*labeldb.LabelDB, *labeldb.Run, error) {
		dbOpened = true
		return LabelDBFile(log, dbFile, "in", "out", "scripted", 1.0)()
	}

	_, err := Run(log, nil, FileSource(filepath.Join(dir, "missing.mp4")), FileSink(filepath.Join(dir, "out.mp4"), "mp4v"), Options{OpenLabelDB: openDB})
	require.ErrorIs(t, err, videox.ErrSourceUnavailable)
	require.False(t, dbOpened)

	input := makeFrames(1, 32, 32)
	defer closeFrames(input)
	src := &memorySource{frames: input}
	_, err = Run(log, nil,
		func() (FrameSource, error) {
			return src, nil
		},
		func(fps float64, width, height int) (FrameSink, error) {
			return nil, errors.New("read-only filesystem")
		}, Options{OpenLabelDB: openDB})
	require.ErrorIs(t, err, videox.ErrSinkUnavailable)
	require.False(t, dbOpened)

	_, err = os.Stat(dbFile)
	require.True(t, os.IsNotExist(err))
}
