package pipeline

import (
	"context"
	"sync/atomic"
	"testing"

	"sawit/internal/config"
	"sawit/internal/logger"
	"sawit/internal/model"
	"sawit/internal/service/ai"

	"gocv.io/x/gocv"
)

func labels(id int) string {
	return ai.NewLabels(ai.DefaultLabels).Lookup(id)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
	t.Cleanup(func() { l.Close() })
	return l
}

func newTestPipeline(t *testing.T, detector ai.Detector, options Options) *Pipeline {
	t.Helper()
	p, err := New(detector, labels, newTestLogger(t), options)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func newFrame(rows int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, 64, gocv.MatTypeCV8UC3)
}

func newFrames(t *testing.T, n int) []gocv.Mat {
	t.Helper()
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = newFrame(10 + i)
	}
	t.Cleanup(func() {
		for _, f := range frames {
			f.Close()
		}
	})
	return frames
}

// echoDetector reports the frame height as the class id so results can be
// matched back to their source frame.
func echoDetector(confidence float64) *ai.MockDetector {
	m := ai.NewMockDetector()
	m.SetFunc(func(_ int, frame gocv.Mat) ([]model.RawDetection, error) {
		return []model.RawDetection{{
			Box:        model.BoundingBox{X1: 1, Y1: 1, X2: 5, Y2: 5},
			ClassID:    frame.Rows(),
			Confidence: confidence,
		}}, nil
	})
	return m
}

// failingSource never yields a frame.
type failingSource struct {
	err    error
	reads  atomic.Int32
	closed atomic.Bool
}

func (f *failingSource) Read(ctx context.Context) (gocv.Mat, error) {
	f.reads.Add(1)
	return gocv.Mat{}, f.err
}

func (f *failingSource) Close() error {
	f.closed.Store(true)
	return nil
}
