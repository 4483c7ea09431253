// Package storage persists annotated frames as detection records.
package storage

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"sawit/internal/dto"
	"sawit/internal/logger"
	"sawit/internal/model"
	"sawit/internal/repository"

	"gocv.io/x/gocv"
)

var (
	// ErrPersistence wraps every storage failure. The annotated frame that
	// failed to persist is still valid for the caller.
	ErrPersistence = errors.New("persistence failed")

	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("record not found")
)

// DefaultTimezone is the zone of persisted timestamps.
const DefaultTimezone = "Asia/Jakarta"

// DetectionStore records annotated frames and serves the detection history.
type DetectionStore struct {
	repo     repository.DetectionRepository
	location *time.Location
	logger   *logger.Logger
	now      func() time.Time
}

// NewDetectionStore creates a store writing timestamps in timezone.
func NewDetectionStore(repo repository.DetectionRepository, timezone string, logger *logger.Logger) (*DetectionStore, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}

	return &DetectionStore{
		repo:     repo,
		location: location,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Persist stores frame with the current time.
func (s *DetectionStore) Persist(frame *model.AnnotatedFrame) (*model.DetectionRecord, error) {
	return s.PersistAt(frame, s.now())
}

// PersistAt PNG-encodes the annotated image and inserts one record
// timestamped at. Only the image and its accepted detections are stored.
func (s *DetectionStore) PersistAt(frame *model.AnnotatedFrame, at time.Time) (*model.DetectionRecord, error) {
	if frame == nil || frame.Image.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrPersistence)
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, frame.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode image: %v", ErrPersistence, err)
	}
	defer buf.Close()

	record := &model.DetectionRecord{
		Timestamp: at.In(s.location).Format(time.RFC3339),
		Image:     append([]byte(nil), buf.GetBytes()...),
		Objects:   objectsOf(frame.Detections),
	}

	if _, err := s.repo.Insert(record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Info("Stored detection record %d (%d objects)", record.ID, len(record.Objects))
	return record, nil
}

// ListHistory returns every record, newest first.
func (s *DetectionStore) ListHistory() ([]model.DetectionRecord, error) {
	records, _, err := s.History(dto.HistoryFilter{})
	return records, err
}

// History returns one page of records, newest first, and the total number
// of records matching the filter.
func (s *DetectionStore) History(filter dto.HistoryFilter) ([]model.DetectionRecord, int, error) {
	records, err := s.repo.GetAll(&filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	total, err := s.repo.GetTotalCount(&filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return records, total, nil
}

// Record returns a single record.
func (s *DetectionStore) Record(id int64) (*model.DetectionRecord, error) {
	record, err := s.repo.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return record, nil
}

// Count returns the number of stored records.
func (s *DetectionStore) Count() (int, error) {
	count, err := s.repo.GetTotalCount(nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return count, nil
}

// Labels returns every label present in the history.
func (s *DetectionStore) Labels() ([]string, error) {
	labels, err := s.repo.GetAllLabels()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return labels, nil
}

// PurgeAll deletes every record. Ids are not reused afterwards.
func (s *DetectionStore) PurgeAll() (int64, error) {
	deleted, err := s.repo.DeleteAll()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Info("Purged %d detection records", deleted)
	return deleted, nil
}

func objectsOf(detections []model.AcceptedDetection) []model.DetectedObject {
	objects := make([]model.DetectedObject, 0, len(detections))
	for _, d := range detections {
		objects = append(objects, model.DetectedObject{
			Label:      d.Label,
			Confidence: d.Confidence,
			X1:         d.Rect.Min.X,
			Y1:         d.Rect.Min.Y,
			X2:         d.Rect.Max.X,
			Y2:         d.Rect.Max.Y,
		})
	}
	return objects
}
