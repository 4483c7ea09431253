package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	DatabasePath      string
	ModelPath         string
	LabelsPath        string  // Empty = built-in ripeness labels
	Confidence        float64 // Initial value of the global confidence threshold
	DetectorMinScore  float64 // Candidate floor applied inside the detector before NMS
	NMSThreshold      float64
	InputSize         int
	Timezone          string
	LogDirectory      string
	CameraSource      string // Device index, file path or URL; empty disables the server-side camera
	UDPCameraPort     int    // 0 disables the UDP camera listener
	StreamQueueSize   int    // Frames waiting between source and detector before the oldest is dropped
	MaxReadErrors     int    // Consecutive source read errors before a stream stops
	AutoSave          bool   // Persist camera frames that contain detections
	BufferLimit       int
	FlushInterval     int // Seconds between recorder flushes
	ThumbnailWidth    int
	ShutdownTimeout   int // Seconds
	MaxUploadMegabyte int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:              getEnvAsInt("PORT", 8080),
		DatabasePath:      getEnv("DB_PATH", filepath.Join(".", "data", "detections.db")),
		ModelPath:         getEnv("MODEL_PATH", filepath.Join(".", "weights", "best.onnx")),
		LabelsPath:        getEnv("LABELS_PATH", ""),
		Confidence:        clampUnit(getEnvAsFloat("CONFIDENCE", 0.40)),
		DetectorMinScore:  clampUnit(getEnvAsFloat("DETECTOR_MIN_SCORE", 0.25)),
		NMSThreshold:      clampUnit(getEnvAsFloat("NMS_THRESHOLD", 0.45)),
		InputSize:         getEnvAsInt("INPUT_SIZE", 640),
		Timezone:          getEnv("TIMEZONE", "Asia/Jakarta"),
		LogDirectory:      getEnv("LOG_DIR", filepath.Join(".", "logs")),
		CameraSource:      getEnv("CAMERA_SOURCE", ""),
		UDPCameraPort:     getEnvAsInt("UDP_CAMERA_PORT", 0),
		StreamQueueSize:   getEnvAsInt("STREAM_QUEUE_SIZE", 1),
		MaxReadErrors:     getEnvAsInt("MAX_READ_ERRORS", 30),
		AutoSave:          getEnvAsBool("AUTO_SAVE", false),
		BufferLimit:       getEnvAsInt("BUFFER_LIMIT", 10),
		FlushInterval:     getEnvAsInt("FLUSH_INTERVAL", 30),
		ThumbnailWidth:    getEnvAsInt("THUMBNAIL_WIDTH", 500),
		ShutdownTimeout:   getEnvAsInt("SHUTDOWN_TIMEOUT", 5),
		MaxUploadMegabyte: getEnvAsInt("MAX_UPLOAD_MB", 20),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func clampUnit(v float64) float64 {
	if v != v || v < 0 { // NaN
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
