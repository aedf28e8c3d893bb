package videox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// DefaultCodec is the fourcc that we write .mp4 files with
const DefaultCodec = "mp4v"

// ValidateFourCC checks that codec is a four character code such as "mp4v" or "MJPG"
func ValidateFourCC(codec string) error {
	if len(codec) != 4 {
		return fmt.Errorf("Codec '%v' is not a four character code", codec)
	}
	for _, c := range codec {
		if c < 0x20 || c > 0x7e {
			return fmt.Errorf("Codec '%v' contains non-printable characters", codec)
		}
	}
	return nil
}

// VideoFileSink encodes BGR frames into a video file
type VideoFileSink struct {
	filename string
	writer   *gocv.VideoWriter
	width    int
	height   int
	nFrames  int
}

// CreateVideoFile creates a video file, and the directory that it lives in.
// If the file cannot be created, the returned error wraps ErrSinkUnavailable.
func CreateVideoFile(filename, codec string, fps float64, width, height int) (*VideoFileSink, error) {
	if err := ValidateFourCC(codec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: Invalid frame size %v x %v", ErrSinkUnavailable, width, height)
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
		}
	}
	writer, err := gocv.VideoWriterFile(filename, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("%w: Failed to create video file %v: %v", ErrSinkUnavailable, filename, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("%w: Failed to create video file %v", ErrSinkUnavailable, filename)
	}
	return &VideoFileSink{
		filename: filename,
		writer:   writer,
		width:    width,
		height:   height,
	}, nil
}

func (s *VideoFileSink) Close() error {
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

// WriteFrame appends a frame to the video. The frame must match the size that the file was created with.
func (s *VideoFileSink) WriteFrame(frame gocv.Mat) error {
	if s.writer == nil {
		return errors.New("Video sink is closed")
	}
	if frame.Cols() != s.width || frame.Rows() != s.height {
		return fmt.Errorf("Frame is %v x %v, but video is %v x %v", frame.Cols(), frame.Rows(), s.width, s.height)
	}
	if err := s.writer.Write(frame); err != nil {
		return fmt.Errorf("Failed to write frame %v to %v: %w", s.nFrames, s.filename, err)
	}
	s.nFrames++
	return nil
}
