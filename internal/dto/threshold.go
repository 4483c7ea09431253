package dto

// ThresholdPayload is the body of GET and PUT /api/threshold.
type ThresholdPayload struct {
	Threshold float64 `json:"threshold"`
	// DetectorMinScore is the detector's own candidate floor; thresholds
	// below it accept nothing more than it does.
	DetectorMinScore float64 `json:"detector_min_score,omitempty"`
}
