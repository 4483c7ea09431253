package ai

import (
	"sync"
	"time"

	"sawit/internal/model"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu         sync.Mutex
	detections []model.RawDetection
	err        error
	delay      time.Duration
	fn         func(call int, frame gocv.Mat) ([]model.RawDetection, error)
	calls      int
	closed     bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections that will be returned by Detect.
func (m *MockDetector) SetDetections(detections []model.RawDetection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = detections
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every Detect call sleep for d.
func (m *MockDetector) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetFunc overrides all other settings. call is 1-based.
func (m *MockDetector) SetFunc(fn func(call int, frame gocv.Mat) ([]model.RawDetection, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

// Detect returns the pre-configured detections or error.
func (m *MockDetector) Detect(frame gocv.Mat) ([]model.RawDetection, error) {
	m.mu.Lock()
	m.calls++
	call, delay, fn, err := m.calls, m.delay, m.fn, m.err
	detections := append([]model.RawDetection(nil), m.detections...)
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fn != nil {
		return fn(call, frame)
	}
	if err != nil {
		return nil, err
	}
	return detections, nil
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
