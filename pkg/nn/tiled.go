package nn

import (
	"fmt"
	"image"

	"github.com/bmharper/tiledinference"
	"gocv.io/x/gocv"
)

// Run tiled inference on the image.
// We look at the width and height of the model, and if the image is larger, then we split the image
// up into tiles, and run each of those tiles through the model. Then, we merge the tiles back
// into a single dataset.
// If the model is larger than the image, then we just run the model directly, so it is safe
// to call TiledInference on any image, without incurring any performance loss.
// Tiles are processed sequentially, because a detector is not safe for concurrent use.
func TiledInference(model ObjectDetector, img gocv.Mat, _params *DetectionParams) ([]ObjectDetection, error) {
	config := model.Config()
	width := img.Cols()
	height := img.Rows()

	// Clip once at the end, so that boxes that straddle a tile boundary survive the merge intact
	params := *_params
	params.Unclipped = true

	// This is somewhat arbitrary, and should probably be some multiple of the model size.
	minPadding := 32

	tiling := tiledinference.MakeTiling(width, height, config.Width, config.Height, minPadding)

	allObjects := []ObjectDetection{}
	allBoxes := []tiledinference.Box{}
	for ty := 0; ty < tiling.NumY; ty++ {
		for tx := 0; tx < tiling.NumX; tx++ {
			objects, boxes, err := detectTile(model, &params, tiling, tx, ty, img)
			if err != nil {
				return nil, fmt.Errorf("Tile %v,%v: %w", tx, ty, err)
			}
			allObjects = append(allObjects, objects...)
			allBoxes = append(allBoxes, boxes...)
		}
	}

	if tiling.IsSingle() {
		if !_params.Unclipped {
			for i := range allObjects {
				allObjects[i].Box = allObjects[i].Box.Clip(width, height)
			}
		}
		return allObjects, nil
	}

	merged := []ObjectDetection{}
	groups, mergedBoxes := tiledinference.MergeBoxes(tiling, allBoxes, nil)
	for igroup, group := range groups {
		// Start with the first object in the group
		newObj := allObjects[group[0]]
		r := mergedBoxes[igroup].Rect

		// Use the merged box, which can be larger than the first object in the group
		newObj.Box = Box{X1: float32(r.X1), Y1: float32(r.Y1), X2: float32(r.X2), Y2: float32(r.Y2)}
		if !_params.Unclipped {
			newObj.Box = newObj.Box.Clip(width, height)
		}

		// Use max(confidence) from all objects in the group
		for _, el := range group[1:] {
			newObj.Confidence = max(newObj.Confidence, allObjects[el].Confidence)
		}

		merged = append(merged, newObj)
	}

	return merged, nil
}

// Returns two parallel arrays
func detectTile(model ObjectDetector, params *DetectionParams, tiling tiledinference.Tiling, tx, ty int, img gocv.Mat) ([]ObjectDetection, []tiledinference.Box, error) {
	tileRect := tiling.TileRect(tx, ty)
	cropRect := image.Rect(int(tileRect.X1), int(tileRect.Y1), int(tileRect.X2), int(tileRect.Y2)).Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	crop := img.Region(cropRect)
	defer crop.Close()
	objects, err := model.DetectObjects(crop, params)
	if err != nil {
		return nil, nil, err
	}
	boxes := []tiledinference.Box{}
	for i, obj := range objects {
		objects[i].Box = obj.Box.Offset(float32(tileRect.X1), float32(tileRect.Y1))
		r := objects[i].Box.Rect()
		box := tiledinference.Box{
			Rect: tiledinference.Rect{
				X1: int32(r.X),
				Y1: int32(r.Y),
				X2: int32(r.X2()),
				Y2: int32(r.Y2()),
			},
			Class: int32(obj.Class),
			Tile:  tiling.MakeTileIndex(tx, ty),
		}
		boxes = append(boxes, box)
	}
	return objects, boxes, nil
}

// TiledDetector is an ObjectDetector that runs its inner model over tiles of the image
type TiledDetector struct {
	model ObjectDetector
}

// NewTiledDetector takes ownership of model
func NewTiledDetector(model ObjectDetector) *TiledDetector {
	return &TiledDetector{model: model}
}

func (t *TiledDetector) Close() {
	t.model.Close()
}

func (t *TiledDetector) Config() *ModelConfig {
	return t.model.Config()
}

func (t *TiledDetector) DetectObjects(img gocv.Mat, params *DetectionParams) ([]ObjectDetection, error) {
	return TiledInference(t.model, img, params)
}
