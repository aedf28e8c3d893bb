package nn

import "fmt"

// YOLOv8Anchors returns the number of candidate boxes emitted by a YOLOv8 (or yolo11) model
// for the given input size. At 640x640 this is 8400.
func YOLOv8Anchors(width, height int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		n += (width / stride) * (height / stride)
	}
	return n
}

// DecodeYOLOv8 decodes the raw output tensor of a YOLOv8 model, which has the shape
// [1, 4+nClasses, nAnchors]. The first 4 rows are cx,cy,w,h in model pixels, and the
// remaining rows are per-class scores.
// Boxes are mapped through the letterbox into image space, and overlapping boxes
// of the same class are suppressed.
func DecodeYOLOv8(output []float32, nClasses, nAnchors int, lb Letterbox, params *DetectionParams) ([]ObjectDetection, error) {
	if len(output) < (4+nClasses)*nAnchors {
		return nil, fmt.Errorf("YOLOv8 output has %v elements, but expected %v", len(output), (4+nClasses)*nAnchors)
	}
	probThreshold, nmsThreshold := params.thresholds()

	candidates := []ObjectDetection{}
	for a := 0; a < nAnchors; a++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < nClasses; c++ {
			score := output[(4+c)*nAnchors+a]
			if score > bestScore {
				bestClass = c
				bestScore = score
			}
		}
		if bestClass == -1 || bestScore < probThreshold {
			continue
		}
		cx := output[a]
		cy := output[nAnchors+a]
		w := output[2*nAnchors+a]
		h := output[3*nAnchors+a]
		box := lb.ToImage(Box{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2})
		if !params.Unclipped {
			box = box.Clip(lb.ImageWidth, lb.ImageHeight)
		}
		candidates = append(candidates, ObjectDetection{
			Class:      bestClass,
			Confidence: bestScore,
			Box:        box,
		})
	}

	keep := NonMaxSuppression(candidates, nmsThreshold)
	objects := make([]ObjectDetection, 0, len(keep))
	for _, i := range keep {
		objects = append(objects, candidates[i])
	}
	return objects, nil
}
