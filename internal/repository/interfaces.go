package repository

import (
	"sawit/internal/dto"
	"sawit/internal/model"
)

// DetectionRepository defines the interface for detection record operations.
type DetectionRepository interface {
	// Create operations
	Insert(record *model.DetectionRecord) (int64, error)

	// Read operations
	GetByID(id int64) (*model.DetectionRecord, error)
	GetAll(filter *dto.HistoryFilter) ([]model.DetectionRecord, error)
	GetTotalCount(filter *dto.HistoryFilter) (int, error)
	GetAllLabels() ([]string, error)

	// Delete operations
	DeleteAll() (int64, error)
}
