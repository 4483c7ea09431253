package handler

import (
	"encoding/json"
	"net/http"

	"sawit/internal/dto"
	"sawit/internal/logger"
	"sawit/internal/service"
)

// GetThresholdHandler returns the current confidence threshold.
func GetThresholdHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, dto.ThresholdPayload{
			Threshold:        manager.Threshold().Load(),
			DetectorMinScore: manager.DetectorMinScore(),
		})
	}
}

// SetThresholdHandler updates the confidence threshold used by every stream
// from the next frame on. The body is {"threshold": x} with x in [0, 1].
// The response reports the detector's candidate floor; values below it
// behave like the floor.
func SetThresholdHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload dto.ThresholdPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if !validThreshold(payload.Threshold) {
			http.Error(w, "threshold must be between 0 and 1", http.StatusBadRequest)
			return
		}

		stored := manager.Threshold().Store(payload.Threshold)
		floor := manager.DetectorMinScore()
		if stored < floor {
			logger.Warning("Confidence threshold set to %.2f, below the detector floor %.2f", stored, floor)
		} else {
			logger.Info("Confidence threshold set to %.2f", stored)
		}
		writeJSON(w, logger, http.StatusOK, dto.ThresholdPayload{Threshold: stored, DetectorMinScore: floor})
	}
}
