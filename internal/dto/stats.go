package dto

// Stats summarises the running service.
type Stats struct {
	Threshold     float64 `json:"threshold"`
	Processed     uint64  `json:"processed"`
	Dropped       uint64  `json:"dropped"`
	Failed        uint64  `json:"failed"`
	ReadErrors    uint64  `json:"read_errors"`
	ActiveStreams int64   `json:"active_streams"`
	Sessions      int     `json:"sessions"`
	Viewers       int     `json:"viewers"`
	Records       int     `json:"records"`
}
