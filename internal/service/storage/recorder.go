package storage

import (
	"context"
	"sync"
	"time"

	"sawit/internal/config"
	"sawit/internal/logger"
	"sawit/internal/model"
)

const (
	// DefaultBufferLimit limits how many frames per source are buffered between flushes.
	DefaultBufferLimit = 10
	// DefaultFlushInterval defines how often buffered frames are written to the store.
	DefaultFlushInterval = 30 * time.Second
)

// FramePersister stores an annotated frame with a capture time.
type FramePersister interface {
	PersistAt(frame *model.AnnotatedFrame, at time.Time) (*model.DetectionRecord, error)
}

type bufferedFrame struct {
	at     time.Time
	source string
	frame  *model.AnnotatedFrame
}

// Recorder buffers annotated stream frames that contain detections and
// periodically flushes them to the store. Persistence failures are logged
// and never reach the stream.
type Recorder struct {
	store       FramePersister
	limit       int
	interval    time.Duration
	frames      []bufferedFrame
	bufferCount map[string]int
	closed      bool
	mu          sync.Mutex
	logger      *logger.Logger
}

// NewRecorder creates a Recorder using BufferLimit and FlushInterval from config.
func NewRecorder(config *config.Config, store FramePersister, logger *logger.Logger) *Recorder {
	limit := config.BufferLimit
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	interval := time.Duration(config.FlushInterval) * time.Second
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	return &Recorder{
		store:       store,
		limit:       limit,
		interval:    interval,
		frames:      make([]bufferedFrame, 0, limit),
		bufferCount: make(map[string]int),
		logger:      logger,
	}
}

// Run flushes on every tick until ctx is done, then flushes once more.
// Producers may still Add after Run returns; Close persists those frames.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return nil
		case <-ticker.C:
			r.Flush()
		}
	}
}

// Add buffers a copy of frame for source. Frames without detections, and
// frames beyond the per-source limit, are ignored. It reports whether the
// frame was buffered.
func (r *Recorder) Add(frame *model.AnnotatedFrame, source string) bool {
	if frame == nil || len(frame.Detections) == 0 || frame.Image.Empty() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.bufferCount[source] >= r.limit {
		return false
	}

	r.frames = append(r.frames, bufferedFrame{
		at:     time.Now(),
		source: source,
		frame: &model.AnnotatedFrame{
			Image:      frame.Image.Clone(),
			Detections: append([]model.AcceptedDetection(nil), frame.Detections...),
		},
	})
	r.bufferCount[source]++
	return true
}

// Flush writes buffered frames to the store and resets per-source counters.
// It returns how many frames were stored.
func (r *Recorder) Flush() int {
	r.mu.Lock()
	frames := r.frames
	r.frames = make([]bufferedFrame, 0, r.limit)
	r.bufferCount = make(map[string]int)
	r.mu.Unlock()

	if len(frames) == 0 {
		return 0
	}

	savedCount := 0
	for _, f := range frames {
		if _, err := r.store.PersistAt(f.frame, f.at); err != nil {
			r.logger.Error("Error saving frame from %s: %v", f.source, err)
		} else {
			savedCount++
		}
		f.frame.Close()
	}

	r.logger.Info("Flushed %d/%d frames to the detection store", savedCount, len(frames))
	return savedCount
}

// Close rejects further frames and flushes what is buffered. Call it once
// every producer has stopped and before the store is closed.
func (r *Recorder) Close() int {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	return r.Flush()
}

// Pending returns the number of buffered frames.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}
