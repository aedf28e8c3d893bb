package nn

// VideoLabels contains labels for each video frame
type VideoLabels struct {
	Classes []string       `json:"classes"`
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	Frames  []*ImageLabels `json:"frames"`
}

type ImageLabels struct {
	Frame   int           `json:"frame"` // For video, this is the frame number
	Objects []ObjectLabel `json:"objects"`
}

// ObjectLabel is a detected object, after being mapped into the final image space
type ObjectLabel struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}
