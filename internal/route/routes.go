package route

import (
	"net/http"

	"sawit/internal/config"
	"sawit/internal/handler"
	"sawit/internal/logger"
	"sawit/internal/service"
)

// SetupRoutes registers the API, websocket and log endpoints.
func SetupRoutes(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Detection
	mux.HandleFunc("POST /api/detect", handler.DetectHandler(manager, cfg, logger))
	mux.HandleFunc("GET /api/stream", handler.StreamWebsocketHandler(manager, cfg, logger))
	mux.HandleFunc("GET /api/view", handler.ViewWebsocketHandler(manager, logger))

	// History
	mux.HandleFunc("GET /api/history", handler.GetHistoryHandler(manager, cfg, logger))
	mux.HandleFunc("GET /api/history/image", handler.ViewRecordImageHandler(manager, logger))
	mux.HandleFunc("DELETE /api/history", handler.ClearHistoryHandler(manager, logger))

	// Settings and status
	mux.HandleFunc("GET /api/threshold", handler.GetThresholdHandler(manager, logger))
	mux.HandleFunc("PUT /api/threshold", handler.SetThresholdHandler(manager, logger))
	mux.HandleFunc("GET /api/stats", handler.StatsHandler(manager, logger))

	// Log endpoints
	for _, level := range []string{"info", "warning", "error"} {
		file := level + ".log"
		mux.HandleFunc("GET /logs/"+level, handler.ShowLogsHandler(cfg, file))
		mux.HandleFunc("POST /logs/"+level+"/clear", handler.ClearLogsHandler(logger, file))
	}

	return mux
}
