package capture

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// ChannelSource is fed by a producer through Push. When the queue is full
// the oldest waiting frame is dropped so the consumer always sees fresh input.
type ChannelSource struct {
	frames  chan gocv.Mat
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// NewChannelSource creates a source queueing at most capacity frames.
func NewChannelSource(capacity int) *ChannelSource {
	if capacity < 1 {
		capacity = 1
	}
	return &ChannelSource{
		frames: make(chan gocv.Mat, capacity),
		done:   make(chan struct{}),
	}
}

// Push hands frame to the source, which takes ownership of it. It returns
// false when the source is closed.
func (s *ChannelSource) Push(frame gocv.Mat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		frame.Close()
		return false
	}

	for {
		select {
		case s.frames <- frame:
			return true
		default:
		}

		select {
		case old := <-s.frames:
			old.Close()
			s.dropped.Add(1)
		default:
		}
	}
}

// Read blocks until a frame arrives, the source is closed or ctx ends.
func (s *ChannelSource) Read(ctx context.Context) (gocv.Mat, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	default:
	}

	select {
	case <-ctx.Done():
		return gocv.Mat{}, ctx.Err()
	case frame := <-s.frames:
		return frame, nil
	case <-s.done:
		return gocv.Mat{}, io.EOF
	}
}

// Dropped returns how many queued frames were discarded for newer ones.
func (s *ChannelSource) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the source and releases queued frames.
func (s *ChannelSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	for {
		select {
		case frame := <-s.frames:
			frame.Close()
		default:
			return nil
		}
	}
}
