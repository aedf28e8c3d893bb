package detect

import "math"

// Rescaler converts between the coordinates of an upscaled frame and the original frame.
// Every conversion truncates toward zero, and each coordinate is converted on its own,
// so a box's width and height are never re-derived.
type Rescaler struct {
	Factor float64
}

// Identity is true when the frame is passed to the model unscaled
func (r Rescaler) Identity() bool {
	return r.Factor == 1.0
}

// ToOriginal maps a coordinate in the upscaled frame back into the original frame
func (r Rescaler) ToOriginal(v int) int {
	return int(float64(v) * (1 / r.Factor))
}

// ScaledSize is the size of the frame that the model sees.
// OpenCV rounds when it derives the destination size from a scale factor, so we do too.
func (r Rescaler) ScaledSize(width, height int) (int, int) {
	if r.Identity() {
		return width, height
	}
	return int(math.Round(float64(width) * r.Factor)), int(math.Round(float64(height) * r.Factor))
}

// BoxToOriginal maps all four corners of a box back into the original frame
func (r Rescaler) BoxToOriginal(x1, y1, x2, y2 int) (int, int, int, int) {
	return r.ToOriginal(x1), r.ToOriginal(y1), r.ToOriginal(x2), r.ToOriginal(y2)
}
