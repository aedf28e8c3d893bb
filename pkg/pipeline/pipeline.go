package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/persondetect/pkg/annotate"
	"github.com/cyclopcam/persondetect/pkg/detect"
	"github.com/cyclopcam/persondetect/pkg/labeldb"
	"github.com/cyclopcam/persondetect/pkg/nn"
	"github.com/cyclopcam/persondetect/pkg/perfstats"
	"github.com/cyclopcam/persondetect/pkg/videox"
	"gocv.io/x/gocv"
)

// DefaultProgressInterval is how often (in frames) we log progress
const DefaultProgressInterval = 30

// FrameSource produces frames until it runs out, and then returns io.EOF
type FrameSource interface {
	NextFrame(dst *gocv.Mat) error
	FPS() float64
	Width() int
	Height() int
	Close() error
}

// FrameSink consumes annotated frames
type FrameSink interface {
	WriteFrame(frame gocv.Mat) error
	Close() error
}

// PersonDetector finds people in a frame. *detect.Detector is the real implementation.
type PersonDetector interface {
	Detect(frame gocv.Mat) ([]detect.Detection, error)
}

type OpenSourceFunc func() (FrameSource, error)
type OpenSinkFunc func(fps float64, width, height int) (FrameSink, error)

// OpenLabelDBFunc opens a label database and starts a run in it
type OpenLabelDBFunc func() (*labeldb.LabelDB, *labeldb.Run, error)

// LabelDBFile opens (or creates) an sqlite label database, and starts a run in it
func LabelDBFile(log logs.Log, filename, input, output, model string, upscaleFactor float64) OpenLabelDBFunc {
	return func() (*labeldb.LabelDB, *labeldb.Run, error) {
		db, err := labeldb.Open(log, filename)
		if err != nil {
			return nil, nil, err
		}
		run, err := db.StartRun(input, output, model, upscaleFactor)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("Failed to start label run: %w", err)
		}
		return db, run, nil
	}
}

// FileSource opens a video file with videox
func FileSource(filename string) OpenSourceFunc {
	return func() (FrameSource, error) {
		src, err := videox.OpenVideoFile(filename)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// FileSink creates a video file with videox
func FileSink(filename, codec string) OpenSinkFunc {
	return func(fps float64, width, height int) (FrameSink, error) {
		sink, err := videox.CreateVideoFile(filename, codec, fps, width, height)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
}

// Options are the optional extras of a run
type Options struct {
	ProgressInterval int               // Log progress every N frames. Zero uses DefaultProgressInterval. Negative disables.
	CollectLabels    bool              // Build nn.VideoLabels for the whole video
	OpenLabelDB      OpenLabelDBFunc   // If not nil, record detections in this DB. Only called once source and sink are open.
	Snapshots        *videox.Snapshots // If not nil, save JPEGs of annotated frames
	Timing           *perfstats.Stages // If not nil, per-stage timings are accumulated here
}

// Result summarizes a completed run
type Result struct {
	Frames     int
	Detections int
	Labels     *nn.VideoLabels // Only populated if Options.CollectLabels is true
	LabelRun   *labeldb.Run    // Only populated if Options.OpenLabelDB is not nil
}

// Run drives frames from the source, through the detector and annotator, and into the sink.
// Frames are processed one at a time. The source and sink are closed on every exit path.
// If the source can't be opened, the error wraps videox.ErrSourceUnavailable.
// If the sink can't be opened, the error wraps videox.ErrSinkUnavailable.
// In both of those cases, nothing is written, including the label DB.
func Run(log logs.Log, detector PersonDetector, openSource OpenSourceFunc, openSink OpenSinkFunc, options Options) (result *Result, err error) {
	source, err := openSource()
	if err != nil {
		if !errors.Is(err, videox.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", videox.ErrSourceUnavailable, err)
		}
		return nil, err
	}
	defer closeAndKeepError(source, "video source", &err)

	fps := source.FPS()
	width := source.Width()
	height := source.Height()
	log.Infof("Input is %v x %v at %.2f FPS", width, height, fps)

	sink, err := openSink(fps, width, height)
	if err != nil {
		if !errors.Is(err, videox.ErrSinkUnavailable) {
			err = fmt.Errorf("%w: %v", videox.ErrSinkUnavailable, err)
		}
		return nil, err
	}
	defer closeAndKeepError(sink, "video sink", &err)

	var db *labeldb.LabelDB
	var run *labeldb.Run
	if options.OpenLabelDB != nil {
		db, run, err = options.OpenLabelDB()
		if err != nil {
			return nil, err
		}
		defer db.Close()
	}

	progressInterval := options.ProgressInterval
	if progressInterval == 0 {
		progressInterval = DefaultProgressInterval
	}
	timing := options.Timing
	if timing == nil {
		timing = perfstats.NewStages()
	}

	result = &Result{}
	if options.CollectLabels {
		result.Labels = &nn.VideoLabels{
			Classes: []string{nn.COCOClasses[nn.COCOPerson]},
			Width:   width,
			Height:  height,
		}
	}

	frame := gocv.NewMat()
	defer frame.Close()

	for frameIdx := 0; ; frameIdx++ {
		start := time.Now()
		if err := source.NextFrame(&frame); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("Failed to read frame %v: %w", frameIdx, err)
		}
		timing.Get("read").Since(start)

		start = time.Now()
		detections, err := detector.Detect(frame)
		if err != nil {
			return nil, fmt.Errorf("Frame %v: %w", frameIdx, err)
		}
		timing.Get("detect").Since(start)

		start = time.Now()
		annotate.Annotate(&frame, detections)
		timing.Get("annotate").Since(start)

		start = time.Now()
		if err := sink.WriteFrame(frame); err != nil {
			return nil, err
		}
		timing.Get("write").Since(start)

		if err := record(options, db, run, result, frameIdx, frame, detections); err != nil {
			return nil, err
		}

		result.Frames++
		result.Detections += len(detections)
		if progressInterval > 0 && result.Frames%progressInterval == 0 {
			log.Infof("Processed %v frames", result.Frames)
		}
	}

	if db != nil {
		if err := db.FinishRun(run.ID, result.Frames); err != nil {
			return nil, fmt.Errorf("Failed to finish label run: %w", err)
		}
		if result.LabelRun, err = db.Run(run.ID); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// Store the side outputs of a frame
func record(options Options, db *labeldb.LabelDB, run *labeldb.Run, result *Result, frameIdx int, frame gocv.Mat, detections []detect.Detection) error {
	if result.Labels != nil && len(detections) != 0 {
		frameLabels := &nn.ImageLabels{
			Frame: frameIdx,
		}
		for _, d := range detections {
			frameLabels.Objects = append(frameLabels.Objects, nn.ObjectLabel{
				Class:      0,
				Confidence: d.Confidence,
				Box:        nn.Rect{X: d.X1, Y: d.Y1, Width: d.Width(), Height: d.Height()},
			})
		}
		result.Labels.Frames = append(result.Labels.Frames, frameLabels)
	}
	if db != nil {
		if err := db.AddFrame(run.ID, frameIdx, detections); err != nil {
			return fmt.Errorf("Failed to record detections of frame %v: %w", frameIdx, err)
		}
	}
	if options.Snapshots != nil {
		if _, err := options.Snapshots.MaybeSave(frameIdx, frame); err != nil {
			return err
		}
	}
	return nil
}

func closeAndKeepError(c io.Closer, what string, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("Failed to close %v: %w", what, cerr)
	}
}

// WriteLabels saves labels as indented JSON
func WriteLabels(filename string, labels *nn.VideoLabels) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(labels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
