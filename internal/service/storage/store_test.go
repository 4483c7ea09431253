package storage

import (
	"errors"
	"image"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sawit/internal/config"
	"sawit/internal/dto"
	"sawit/internal/logger"
	"sawit/internal/model"
	"sawit/internal/repository/sqlite"

	"gocv.io/x/gocv"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
	t.Cleanup(func() { l.Close() })
	return l
}

func newTestStore(t *testing.T) *DetectionStore {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewDetectionStore(sqlite.NewDetectionRepository(db), "", newTestLogger(t))
	if err != nil {
		t.Fatalf("NewDetectionStore() error = %v", err)
	}
	return store
}

func annotatedFrame(t *testing.T, withDetection bool) *model.AnnotatedFrame {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 120, 230, 0), 24, 32, gocv.MatTypeCV8UC3)
	frame := &model.AnnotatedFrame{Image: img}
	if withDetection {
		frame.Detections = []model.AcceptedDetection{{
			RawDetection: model.RawDetection{ClassID: 1, Confidence: 0.8},
			Label:        "masak",
			Rect:         image.Rect(2, 3, 20, 21),
		}}
	}
	t.Cleanup(func() { frame.Close() })
	return frame
}

// failingRepo rejects every call.
type failingRepo struct{}

var errDiskFull = errors.New("disk full")

func (failingRepo) Insert(*model.DetectionRecord) (int64, error)             { return 0, errDiskFull }
func (failingRepo) GetByID(int64) (*model.DetectionRecord, error)            { return nil, errDiskFull }
func (failingRepo) GetAll(*dto.HistoryFilter) ([]model.DetectionRecord, error) { return nil, errDiskFull }
func (failingRepo) GetTotalCount(*dto.HistoryFilter) (int, error)            { return 0, errDiskFull }
func (failingRepo) GetAllLabels() ([]string, error)                          { return nil, errDiskFull }
func (failingRepo) DeleteAll() (int64, error)                                { return 0, errDiskFull }

func historyIDs(t *testing.T, s *DetectionStore) []int64 {
	t.Helper()
	records, err := s.ListHistory()
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func TestDetectionStore_PersistPurgePersist(t *testing.T) {
	s := newTestStore(t)
	frame := annotatedFrame(t, true)

	for _, want := range []int64{1, 2} {
		rec, err := s.Persist(frame)
		if err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		if rec.ID != want {
			t.Errorf("expected id %d, got %d", want, rec.ID)
		}
	}

	if ids := historyIDs(t, s); len(ids) != 2 || ids[0] != 2 || ids[1] != 1 {
		t.Errorf("expected history [2 1], got %v", ids)
	}

	if _, err := s.PurgeAll(); err != nil {
		t.Fatalf("PurgeAll() error = %v", err)
	}
	if ids := historyIDs(t, s); len(ids) != 0 {
		t.Errorf("expected empty history, got %v", ids)
	}

	rec, err := s.Persist(frame)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if rec.ID != 3 {
		t.Errorf("expected id 3 after purge, got %d", rec.ID)
	}
	if ids := historyIDs(t, s); len(ids) != 1 || ids[0] != 3 {
		t.Errorf("expected history [3], got %v", ids)
	}
}

func TestDetectionStore_ImageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	frame := annotatedFrame(t, true)

	rec, err := s.Persist(frame)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	stored, err := s.Record(rec.ID)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	decoded, err := gocv.IMDecode(stored.Image, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("IMDecode() error = %v", err)
	}
	defer decoded.Close()

	if decoded.Rows() != frame.Image.Rows() || decoded.Cols() != frame.Image.Cols() {
		t.Fatalf("expected %dx%d, got %dx%d", frame.Image.Cols(), frame.Image.Rows(), decoded.Cols(), decoded.Rows())
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(frame.Image, decoded, &diff)
	if sum := diff.Sum(); sum.Val1 != 0 || sum.Val2 != 0 || sum.Val3 != 0 {
		t.Error("stored image is not pixel-identical to the annotated frame")
	}

	if len(stored.Objects) != 1 || stored.Objects[0].Label != "masak" || stored.Objects[0].X2 != 20 {
		t.Errorf("unexpected stored objects %+v", stored.Objects)
	}
}

func TestDetectionStore_TimestampInConfiguredZone(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC) }

	rec, err := s.Persist(annotatedFrame(t, false))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	if rec.Timestamp != "2025-03-02T06:30:00+07:00" {
		t.Errorf("expected Jakarta timestamp, got %s", rec.Timestamp)
	}
	if _, err := time.Parse(time.RFC3339, rec.Timestamp); err != nil {
		t.Errorf("timestamp is not RFC3339: %v", err)
	}
}

func TestDetectionStore_PersistenceFailure(t *testing.T) {
	s, err := NewDetectionStore(failingRepo{}, "UTC", newTestLogger(t))
	if err != nil {
		t.Fatalf("NewDetectionStore() error = %v", err)
	}

	if _, err := s.Persist(annotatedFrame(t, true)); !errors.Is(err, ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
	if _, err := s.ListHistory(); !errors.Is(err, ErrPersistence) {
		t.Errorf("expected ErrPersistence from ListHistory, got %v", err)
	}
	if _, err := s.PurgeAll(); !errors.Is(err, ErrPersistence) {
		t.Errorf("expected ErrPersistence from PurgeAll, got %v", err)
	}
}

func TestDetectionStore_RecordNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Record(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDetectionStore_History(t *testing.T) {
	s := newTestStore(t)
	withDetection := annotatedFrame(t, true)
	without := annotatedFrame(t, false)

	s.Persist(withDetection)
	s.Persist(without)
	s.Persist(withDetection)

	records, total, err := s.History(dto.HistoryFilter{Label: "masak", Limit: 1})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if total != 2 || len(records) != 1 || records[0].ID != 3 {
		t.Errorf("unexpected page: total=%d records=%+v", total, records)
	}

	count, err := s.Count()
	if err != nil || count != 3 {
		t.Errorf("Count() = %d, %v; expected 3", count, err)
	}

	labels, err := s.Labels()
	if err != nil || strings.Join(labels, ",") != "masak" {
		t.Errorf("Labels() = %v, %v", labels, err)
	}
}

func TestNewDetectionStore_UnknownTimezone(t *testing.T) {
	if _, err := NewDetectionStore(failingRepo{}, "Mars/Olympus", nil); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
