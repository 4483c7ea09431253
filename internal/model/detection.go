package model

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// BoundingBox is a detector box in pixel coordinates of the source frame.
// Values are not guaranteed to lie inside the frame.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// RawDetection is one candidate returned by a detector for a single frame.
type RawDetection struct {
	Box        BoundingBox `json:"box"`
	ClassID    int         `json:"class_id"`
	Confidence float64     `json:"confidence"`
}

// AcceptedDetection is a RawDetection that passed the confidence threshold.
// Rect is the box as drawn, clamped to the frame.
type AcceptedDetection struct {
	RawDetection
	Label string          `json:"label"`
	Rect  image.Rectangle `json:"-"`
}

// Caption is the text rendered next to the box.
func (d AcceptedDetection) Caption() string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// AnnotatedFrame owns a BGR image with detections burned in. Callers must
// Close it when done.
type AnnotatedFrame struct {
	Image      gocv.Mat
	Detections []AcceptedDetection
}

// Close releases the image.
func (f *AnnotatedFrame) Close() error {
	if f == nil {
		return nil
	}
	return f.Image.Close()
}
