package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
)

// NonMaxSuppression removes objects that overlap a higher confidence object of the same
// class by at least minIoU.
// Returns the indices of the objects that should be retained, in order of descending confidence.
func NonMaxSuppression(input []ObjectDetection, minIoU float32) []int {
	if len(input) == 0 {
		return []int{}
	}

	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return input[order[a]].Confidence > input[order[b]].Confidence
	})
	rank := make([]int, len(input))
	for r, i := range order {
		rank[i] = r
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, obj := range input {
		x1, y1, x2, y2 := indexBounds(obj.Box)
		fb.Add(x1, y1, x2, y2)
	}
	fb.Finish()

	suppressed := make([]bool, len(input))
	retain := make([]int, 0, len(input))
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		retain = append(retain, i)
		x1, y1, x2, y2 := indexBounds(input[i].Box)
		for _, j := range fb.Search(x1, y1, x2, y2) {
			if j == i || suppressed[j] || rank[j] < rank[i] {
				continue
			}
			if input[j].Class != input[i].Class {
				continue
			}
			if input[i].Box.IOU(input[j].Box) >= minIoU {
				suppressed[j] = true
			}
		}
	}
	return retain
}

// The spatial index is integer, so round outwards
func indexBounds(b Box) (x1, y1, x2, y2 int32) {
	return int32(math32.Floor(b.X1)), int32(math32.Floor(b.Y1)), int32(math32.Ceil(b.X2)), int32(math32.Ceil(b.Y2))
}
