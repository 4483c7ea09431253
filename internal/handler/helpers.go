package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"sawit/internal/logger"
)

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// boolDefault parses a boolean query value, falling back to def.
func boolDefault(s string, def bool) bool {
	if v, err := strconv.ParseBool(s); err == nil {
		return v
	}
	return def
}

// parseThreshold parses a confidence in [0, 1]. ok is false for anything else.
func parseThreshold(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !validThreshold(v) {
		return 0, false
	}
	return v, true
}

func validThreshold(v float64) bool {
	return v == v && v >= 0 && v <= 1
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, logger *logger.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
