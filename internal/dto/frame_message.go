package dto

// FrameMessage carries one annotated stream frame over a websocket.
type FrameMessage struct {
	Camera     string          `json:"camera,omitempty"`
	Seq        uint64          `json:"seq"`
	Image      string          `json:"image"` // base64 JPEG
	Detections []DetectionItem `json:"detections"`
}

// StreamControl is sent by stream clients as a text message.
type StreamControl struct {
	Threshold *float64 `json:"threshold,omitempty"`
}
