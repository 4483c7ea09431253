package handler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"net/http"
	"strconv"

	"sawit/internal/config"
	"sawit/internal/dto"
	"sawit/internal/logger"
	"sawit/internal/model"
	"sawit/internal/service"
	"sawit/internal/service/storage"

	"github.com/disintegration/imaging"
)

const (
	defaultPageLimit = 24
	maxPageLimit     = 100
	thumbnailQuality = 80
)

// GetHistoryHandler returns a page of stored detections, newest first, with
// JPEG thumbnails. Query parameters: page, limit (at most 100), label.
func GetHistoryHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := min(atoiDefault(q.Get("limit"), defaultPageLimit), maxPageLimit)

		filter := dto.HistoryFilter{
			Label:  q.Get("label"),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		records, total, err := manager.Store().History(filter)
		if err != nil {
			logger.Error("Error querying detection history: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		labels, err := manager.Store().Labels()
		if err != nil {
			logger.Error("Error querying labels: %v", err)
		}
		if labels == nil {
			labels = []string{}
		}

		items := make([]dto.HistoryItem, 0, len(records))
		for _, rec := range records {
			thumb, err := thumbnail(rec, cfg.ThumbnailWidth)
			if err != nil {
				logger.Warning("Failed to build thumbnail for record %d: %v", rec.ID, err)
			}
			items = append(items, dto.HistoryItem{
				ID:        rec.ID,
				Timestamp: rec.Timestamp,
				Objects:   rec.Objects,
				Thumbnail: thumb,
			})
		}

		writeJSON(w, logger, http.StatusOK, dto.HistoryPage{
			Items:  items,
			Total:  total,
			Page:   page,
			Limit:  limit,
			Labels: labels,
		})
	}
}

// ViewRecordImageHandler serves the full stored PNG of a record given by the "id" query parameter.
func ViewRecordImageHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		rec, err := manager.Store().Record(id)
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			logger.Error("Error loading record %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", "inline; filename=deteksi_"+strconv.FormatInt(id, 10)+".png")
		w.Write(rec.Image)
	}
}

// ClearHistoryHandler deletes every stored detection.
func ClearHistoryHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := manager.Store().PurgeAll()
		if err != nil {
			logger.Error("Error clearing detection history: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, logger, http.StatusOK, dto.PurgeResponse{Deleted: deleted})
	}
}

// thumbnail scales the stored PNG down to width and returns it as base64 JPEG.
func thumbnail(rec model.DetectionRecord, width int) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(rec.Image))
	if err != nil {
		return "", err
	}

	if width > 0 && img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
