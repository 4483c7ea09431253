package dto

import "sawit/internal/model"

// HistoryItem is one record of the detection history.
type HistoryItem struct {
	ID        int64                  `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Objects   []model.DetectedObject `json:"objects"`
	Thumbnail string                 `json:"thumbnail"` // base64 JPEG
}

// HistoryPage is a page of history, newest first.
type HistoryPage struct {
	Items  []HistoryItem `json:"items"`
	Total  int           `json:"total"`
	Page   int           `json:"page"`
	Limit  int           `json:"limit"`
	Labels []string      `json:"labels"`
}

// PurgeResponse reports how many records a purge removed.
type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
}
