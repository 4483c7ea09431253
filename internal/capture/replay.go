package capture

import (
	"context"
	"io"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ReplaySource plays back a fixed frame sequence. Every Read returns a clone,
// so the originals stay owned by the caller.
type ReplaySource struct {
	frames []gocv.Mat
	loop   bool
	delay  time.Duration
	index  int
	reads  int
	closed bool
	mu     sync.Mutex
}

// NewReplaySource plays frames once, or forever when loop is set.
func NewReplaySource(frames []gocv.Mat, loop bool) *ReplaySource {
	return &ReplaySource{
		frames: frames,
		loop:   loop,
	}
}

// SetDelay paces playback; each Read waits d before returning.
func (r *ReplaySource) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Read returns a clone of the next frame, or io.EOF when playback ends.
func (r *ReplaySource) Read(ctx context.Context) (gocv.Mat, error) {
	r.mu.Lock()
	delay := r.delay
	r.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return gocv.Mat{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return gocv.Mat{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || len(r.frames) == 0 {
		return gocv.Mat{}, io.EOF
	}
	if r.index >= len(r.frames) {
		if !r.loop {
			return gocv.Mat{}, io.EOF
		}
		r.index = 0
	}

	frame := r.frames[r.index].Clone()
	r.index++
	r.reads++
	return frame, nil
}

// Reads returns how many frames have been handed out.
func (r *ReplaySource) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// Close ends playback.
func (r *ReplaySource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
