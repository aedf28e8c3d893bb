package videox

import (
	"errors"
	"fmt"
	"io"

	"gocv.io/x/gocv"
)

var ErrSourceUnavailable = errors.New("Video source unavailable")
var ErrSinkUnavailable = errors.New("Video sink unavailable")

// VideoFileSource reads BGR frames from a video file, one at a time.
// It cannot be rewound.
type VideoFileSource struct {
	filename string
	capture  *gocv.VideoCapture
	fps      float64
	width    int
	height   int
}

// OpenVideoFile opens a video file for reading.
// If the file cannot be opened, the returned error wraps ErrSourceUnavailable.
func OpenVideoFile(filename string) (*VideoFileSource, error) {
	capture, err := gocv.VideoCaptureFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: Failed to open video file %v: %v", ErrSourceUnavailable, filename, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: Failed to open video file %v", ErrSourceUnavailable, filename)
	}
	return &VideoFileSource{
		filename: filename,
		capture:  capture,
		fps:      capture.Get(gocv.VideoCaptureFPS),
		width:    int(capture.Get(gocv.VideoCaptureFrameWidth)),
		height:   int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

func (s *VideoFileSource) Close() error {
	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	return err
}

// NextFrame decodes the next frame into dst.
// Returns io.EOF when there are no more frames.
func (s *VideoFileSource) NextFrame(dst *gocv.Mat) error {
	if s.capture == nil {
		return fmt.Errorf("Video source %v is closed", s.filename)
	}
	if !s.capture.Read(dst) || dst.Empty() {
		return io.EOF
	}
	return nil
}

func (s *VideoFileSource) FPS() float64 {
	return s.fps
}

func (s *VideoFileSource) Width() int {
	return s.width
}

func (s *VideoFileSource) Height() int {
	return s.height
}
