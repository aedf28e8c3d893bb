package nn

import "github.com/chewxy/math32"

// Rect is an integer box in image pixels, as stored in label files
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) X2() int {
	return r.X + r.Width
}

func (r Rect) Y2() int {
	return r.Y + r.Height
}

// Box is an axis aligned box with float corners, as produced by a model.
// (X1,Y1) is the top-left corner, and (X2,Y2) is the bottom-right.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

func (b Box) Width() float32 {
	return b.X2 - b.X1
}

func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

func (b Box) Area() float32 {
	return max(0, b.Width()) * max(0, b.Height())
}

// Intersection over Union
func (b Box) IOU(o Box) float32 {
	iw := math32.Min(b.X2, o.X2) - math32.Max(b.X1, o.X1)
	ih := math32.Min(b.Y2, o.Y2) - math32.Max(b.Y1, o.Y1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func (b Box) Offset(dx, dy float32) Box {
	return Box{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Clip the box to [0,0,width,height]
func (b Box) Clip(width, height int) Box {
	w := float32(width)
	h := float32(height)
	return Box{
		X1: math32.Min(math32.Max(b.X1, 0), w),
		Y1: math32.Min(math32.Max(b.Y1, 0), h),
		X2: math32.Min(math32.Max(b.X2, 0), w),
		Y2: math32.Min(math32.Max(b.Y2, 0), h),
	}
}

// Rect truncates the float corners to integers
func (b Box) Rect() Rect {
	x1 := int(b.X1)
	y1 := int(b.Y1)
	return Rect{X: x1, Y: y1, Width: int(b.X2) - x1, Height: int(b.Y2) - y1}
}
