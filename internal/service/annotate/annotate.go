// Package annotate filters detector output by confidence and burns the
// surviving boxes and captions into a copy of the frame.
package annotate

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"sawit/internal/model"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when there is nothing to draw on.
var ErrEmptyFrame = errors.New("empty frame")

const (
	boxThickness  = 2
	fontFace      = gocv.FontHersheySimplex
	fontScale     = 0.9
	textThickness = 2
	labelOffset   = 10
)

var green = color.RGBA{R: 0, G: 255, B: 0, A: 0}

// LabelFunc resolves a class id to its display name.
type LabelFunc func(classID int) string

// Filter keeps detections whose confidence is at or above threshold, in
// their original order.
func Filter(detections []model.RawDetection, threshold float64) []model.RawDetection {
	kept := make([]model.RawDetection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	return kept
}

// ClampBox rounds box to integer pixels inside a cols x rows frame.
// Inverted corners are swapped and non-finite coordinates are pinned to the
// nearest edge.
func ClampBox(box model.BoundingBox, cols, rows int) image.Rectangle {
	x1 := clamp(box.X1, cols-1)
	y1 := clamp(box.Y1, rows-1)
	x2 := clamp(box.X2, cols-1)
	y2 := clamp(box.Y2, rows-1)

	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}
}

func clamp(v float64, upper int) int {
	if upper < 0 {
		return 0
	}
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= float64(upper):
		return upper
	}
	return int(math.Round(v))
}

// Annotate draws every detection with confidence >= threshold onto a clone
// of frame. The input frame is never written. Boxes are drawn in detector
// order; overlapping detections are all kept.
func Annotate(frame gocv.Mat, detections []model.RawDetection, threshold float64, labels LabelFunc) (*model.AnnotatedFrame, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	out := frame.Clone()
	cols, rows := out.Cols(), out.Rows()

	accepted := make([]model.AcceptedDetection, 0, len(detections))
	for _, d := range Filter(detections, threshold) {
		det := model.AcceptedDetection{
			RawDetection: d,
			Label:        labelOf(labels, d.ClassID),
			Rect:         ClampBox(d.Box, cols, rows),
		}

		if err := draw(&out, det); err != nil {
			out.Close()
			return nil, err
		}
		accepted = append(accepted, det)
	}

	return &model.AnnotatedFrame{Image: out, Detections: accepted}, nil
}

func draw(img *gocv.Mat, det model.AcceptedDetection) error {
	if err := gocv.Rectangle(img, det.Rect, green, boxThickness); err != nil {
		return fmt.Errorf("failed to draw rectangle: %w", err)
	}

	caption := det.Caption()
	if err := gocv.PutText(img, caption, labelOrigin(det.Rect, caption), fontFace, fontScale, green, textThickness); err != nil {
		return fmt.Errorf("failed to draw text: %w", err)
	}
	return nil
}

// labelOrigin places the caption baseline just above the box, or inside it
// when the box touches the top edge.
func labelOrigin(rect image.Rectangle, caption string) image.Point {
	size := gocv.GetTextSize(caption, fontFace, fontScale, textThickness)
	y := rect.Min.Y - labelOffset
	if y < size.Y {
		y = rect.Min.Y + size.Y + labelOffset
	}
	return image.Pt(rect.Min.X, y)
}

func labelOf(labels LabelFunc, classID int) string {
	if labels == nil {
		return fmt.Sprintf("class_%d", classID)
	}
	return labels(classID)
}
