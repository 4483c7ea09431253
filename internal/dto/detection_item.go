package dto

import "sawit/internal/model"

// DetectionItem is an accepted detection as returned by the API.
type DetectionItem struct {
	Label      string  `json:"label"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}

// DetectionItems converts accepted detections, preserving order.
func DetectionItems(detections []model.AcceptedDetection) []DetectionItem {
	items := make([]DetectionItem, 0, len(detections))
	for _, d := range detections {
		items = append(items, DetectionItem{
			Label:      d.Label,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			X1:         d.Rect.Min.X,
			Y1:         d.Rect.Min.Y,
			X2:         d.Rect.Max.X,
			Y2:         d.Rect.Max.Y,
		})
	}
	return items
}
