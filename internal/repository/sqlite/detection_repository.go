package sqlite

import (
	"database/sql"
	"fmt"

	"sawit/internal/dto"
	"sawit/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Insert adds a detection record and its objects in a single transaction.
func (r *DetectionRepository) Insert(record *model.DetectionRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`INSERT INTO detections (timestamp, image) VALUES (?, ?)`, record.Timestamp, record.Image)
	if err != nil {
		return 0, fmt.Errorf("failed to insert detection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read detection id: %w", err)
	}

	if len(record.Objects) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO detection_objects (detection_id, label, confidence, x1, y1, x2, y2)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return 0, fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, obj := range record.Objects {
			if _, err := stmt.Exec(id, obj.Label, obj.Confidence, obj.X1, obj.Y1, obj.X2, obj.Y2); err != nil {
				return 0, fmt.Errorf("failed to insert detection object: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit detection: %w", err)
	}

	record.ID = id
	return id, nil
}

// GetByID retrieves a record by its ID. It returns nil, nil when no such record exists.
func (r *DetectionRepository) GetByID(id int64) (*model.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var rec model.DetectionRecord
	err := r.db.Conn().QueryRow(`SELECT id, timestamp, image FROM detections WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Timestamp, &rec.Image)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection: %w", err)
	}

	if rec.Objects, err = r.objects(rec.ID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAll retrieves records newest first. Insertion order is authoritative,
// so rows are ordered by id rather than by timestamp text.
func (r *DetectionRepository) GetAll(filter *dto.HistoryFilter) ([]model.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query, args := filteredQuery(`SELECT d.id, d.timestamp, d.image FROM detections d`, filter)
	query += " ORDER BY d.id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var records []model.DetectionRecord
	for rows.Next() {
		var rec model.DetectionRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Image); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detections: %w", err)
	}
	rows.Close()

	for i := range records {
		if records[i].Objects, err = r.objects(records[i].ID); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// GetTotalCount returns the number of records matching the filter.
func (r *DetectionRepository) GetTotalCount(filter *dto.HistoryFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query, args := filteredQuery(`SELECT COUNT(*) FROM detections d`, filter)

	var count int
	if err := r.db.Conn().QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}

	return count, nil
}

// GetAllLabels returns a list of all distinct stored labels.
func (r *DetectionRepository) GetAllLabels() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT label FROM detection_objects ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, label)
	}

	return labels, rows.Err()
}

// DeleteAll removes every record. The id sequence is kept, so new records
// never reuse an id.
func (r *DetectionRepository) DeleteAll() (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM detection_objects`); err != nil {
		return 0, fmt.Errorf("failed to delete detection objects: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM detections`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete detections: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}

	return result.RowsAffected()
}

// objects loads the stored objects of one record. Callers hold the read lock.
func (r *DetectionRepository) objects(recordID int64) ([]model.DetectedObject, error) {
	rows, err := r.db.Conn().Query(`
		SELECT id, detection_id, label, confidence, x1, y1, x2, y2
		FROM detection_objects WHERE detection_id = ? ORDER BY id
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection objects: %w", err)
	}
	defer rows.Close()

	objects := []model.DetectedObject{}
	for rows.Next() {
		var obj model.DetectedObject
		if err := rows.Scan(&obj.ID, &obj.RecordID, &obj.Label, &obj.Confidence, &obj.X1, &obj.Y1, &obj.X2, &obj.Y2); err != nil {
			return nil, fmt.Errorf("failed to scan detection object: %w", err)
		}
		objects = append(objects, obj)
	}

	return objects, rows.Err()
}

func filteredQuery(base string, filter *dto.HistoryFilter) (string, []interface{}) {
	query := base + " WHERE 1=1"
	args := []interface{}{}

	if filter != nil && filter.Label != "" {
		query += " AND EXISTS (SELECT 1 FROM detection_objects o WHERE o.detection_id = d.id AND o.label = ?)"
		args = append(args, filter.Label)
	}

	return query, args
}
