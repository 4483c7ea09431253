package model

// DetectionRecord is one persisted detection event.
type DetectionRecord struct {
	ID        int64            `json:"id"`
	Timestamp string           `json:"timestamp"`
	Image     []byte           `json:"-"` // PNG
	Objects   []DetectedObject `json:"objects"`
}

// DetectedObject is an accepted detection stored alongside its record.
type DetectedObject struct {
	ID         int64   `json:"-"`
	RecordID   int64   `json:"-"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}
