package dto

// DetectResponse is the result of a single-image detection.
type DetectResponse struct {
	Threshold  float64         `json:"threshold"`
	Detections []DetectionItem `json:"detections"`
	Image      string          `json:"image"` // base64 PNG
	RecordID   int64           `json:"record_id,omitempty"`
	Saved      bool            `json:"saved"`
	SaveError  string          `json:"save_error,omitempty"`
}
