package ai

import (
	"errors"

	"sawit/internal/model"

	"gocv.io/x/gocv"
)

var (
	// ErrModelUnavailable is returned when detector weights cannot be loaded.
	// It is only produced at construction time.
	ErrModelUnavailable = errors.New("detection model unavailable")

	// ErrInferenceFailure is returned when a single frame cannot be processed.
	// Callers drop that frame and carry on.
	ErrInferenceFailure = errors.New("inference failed")
)

// Detector runs an object-detection model over a BGR frame.
type Detector interface {
	// Detect returns raw detections in the order the model produced them.
	// The frame is never modified.
	Detect(frame gocv.Mat) ([]model.RawDetection, error)

	// Close releases any resources held by the detector.
	Close() error
}
