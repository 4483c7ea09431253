package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"sawit/internal/config"
	"sawit/internal/dto"
	"sawit/internal/logger"
	"sawit/internal/service"
	"sawit/internal/service/pipeline"
)

// DetectHandler runs single-image detection on an uploaded image.
// The image is read from the multipart field "image" or, for any other
// content type, from the raw body. Query parameters:
// confidence (default: current threshold), save (default true).
func DetectHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	maxBytes := int64(cfg.MaxUploadMegabyte) << 20
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		threshold := manager.Threshold().Load()
		if v := q.Get("confidence"); v != "" {
			var ok bool
			if threshold, ok = parseThreshold(v); !ok {
				http.Error(w, "confidence must be a number between 0 and 1", http.StatusBadRequest)
				return
			}
		}
		save := boolDefault(q.Get("save"), true)

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		data, err := readUpload(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "image upload required", http.StatusBadRequest)
			return
		}

		result, err := manager.DetectImage(data, threshold, save)
		if err != nil {
			if errors.Is(err, pipeline.ErrMalformedInput) {
				http.Error(w, "unsupported or corrupt image (jpg, jpeg, png, bmp, webp)", http.StatusBadRequest)
				return
			}
			logger.Error("Detection failed: %v", err)
			http.Error(w, "detection failed", http.StatusInternalServerError)
			return
		}
		defer result.Frame.Close()

		encoded, err := service.EncodeImage(".png", result.Frame.Image)
		if err != nil {
			logger.Error("Failed to encode annotated image: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		response := dto.DetectResponse{
			Threshold:  threshold,
			Detections: dto.DetectionItems(result.Frame.Detections),
			Image:      base64.StdEncoding.EncodeToString(encoded),
		}
		if result.Record != nil {
			response.RecordID = result.Record.ID
			response.Saved = true
		}
		if result.SaveErr != nil {
			response.SaveError = result.SaveErr.Error()
		}

		writeJSON(w, logger, http.StatusOK, response)
	}
}

func readUpload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}
