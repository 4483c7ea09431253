package handler

import (
	"net/http"

	"sawit/internal/logger"
	"sawit/internal/service"
)

// StatsHandler reports pipeline counters and service state.
func StatsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, manager.Stats())
	}
}
