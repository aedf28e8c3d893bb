package videox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmharper/cimg/v2"
	"gocv.io/x/gocv"
)

// SaveJPEG writes a BGR frame to a JPEG file
func SaveJPEG(filename string, frame gocv.Mat, quality int) error {
	if frame.Empty() || frame.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("SaveJPEG needs a non-empty 8-bit BGR frame")
	}
	// ToBytes gives us a tightly packed copy, even if frame is a sub-region
	img := cimg.WrapImage(frame.Cols(), frame.Rows(), cimg.PixelFormatBGR, frame.ToBytes())
	b, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, b, 0644)
}

// Snapshots saves every Nth frame that it is given as a JPEG
type Snapshots struct {
	Dir     string
	Every   int
	Quality int
}

// MaybeSave saves the frame if frameIdx is a multiple of Every.
// Returns the filename, or an empty string if the frame was skipped.
func (s *Snapshots) MaybeSave(frameIdx int, frame gocv.Mat) (string, error) {
	if s.Every <= 0 || frameIdx%s.Every != 0 {
		return "", nil
	}
	quality := s.Quality
	if quality <= 0 {
		quality = 90
	}
	filename := filepath.Join(s.Dir, fmt.Sprintf("frame-%06d.jpg", frameIdx))
	if err := SaveJPEG(filename, frame, quality); err != nil {
		return "", fmt.Errorf("Failed to save snapshot %v: %w", filename, err)
	}
	return filename, nil
}
