package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"sawit/internal/capture"
	"sawit/internal/model"
	"sawit/internal/service/ai"

	"gocv.io/x/gocv"
)

func collect(t *testing.T, s *Stream, timeout time.Duration) []Result {
	t.Helper()
	var results []Result
	deadline := time.After(timeout)
	for {
		select {
		case r, ok := <-s.C():
			if !ok {
				return results
			}
			results = append(results, r)
		case <-deadline:
			t.Fatalf("stream did not finish within %v", timeout)
		}
	}
}

func closeAll(results []Result) {
	for _, r := range results {
		r.Frame.Close()
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestProcessStream_PreservesOrder(t *testing.T) {
	frames := newFrames(t, 10)
	p := newTestPipeline(t, echoDetector(0.9), Options{QueueSize: len(frames)})

	s := p.ProcessStream(context.Background(), capture.NewReplaySource(frames, false), NewThreshold(0.4))
	results := collect(t, s, 5*time.Second)
	defer closeAll(results)

	if len(results) != len(frames) {
		t.Fatalf("expected %d results, got %d", len(frames), len(results))
	}
	for i, r := range results {
		if r.Seq != uint64(i+1) {
			t.Errorf("result %d: expected seq %d, got %d", i, i+1, r.Seq)
		}
		if r.Frame.Image.Rows() != frames[i].Rows() {
			t.Errorf("result %d: expected frame with %d rows, got %d", i, frames[i].Rows(), r.Frame.Image.Rows())
		}
	}

	<-s.Done()
	if s.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", s.State())
	}
	if s.Err() != nil {
		t.Errorf("expected clean end of stream, got %v", s.Err())
	}
	if p.Stats().ActiveStreams != 0 {
		t.Errorf("expected no active streams, got %d", p.Stats().ActiveStreams)
	}
}

func TestProcessStream_SkipsFailedFrames(t *testing.T) {
	frames := newFrames(t, 4)
	detector := ai.NewMockDetector()
	detector.SetFunc(func(call int, _ gocv.Mat) ([]model.RawDetection, error) {
		if call == 2 {
			return nil, ai.ErrInferenceFailure
		}
		return nil, nil
	})
	p := newTestPipeline(t, detector, Options{QueueSize: len(frames)})

	s := p.ProcessStream(context.Background(), capture.NewReplaySource(frames, false), NewThreshold(0.4))
	results := collect(t, s, 5*time.Second)
	defer closeAll(results)

	var seqs []uint64
	for _, r := range results {
		seqs = append(seqs, r.Seq)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[1] != 3 || seqs[2] != 4 {
		t.Errorf("expected seqs [1 3 4], got %v", seqs)
	}

	<-s.Done()
	stats := s.Stats()
	if stats.Failed != 1 || stats.Processed != 3 {
		t.Errorf("expected 3 processed and 1 failed, got %+v", stats)
	}
}

func TestProcessStream_DropsOldestUnderLoad(t *testing.T) {
	frames := newFrames(t, 1)
	detector := echoDetector(0.9)
	detector.SetDelay(15 * time.Millisecond)
	p := newTestPipeline(t, detector, Options{QueueSize: 1})

	src := capture.NewReplaySource(frames, true)
	s := p.ProcessStream(context.Background(), src, NewThreshold(0.4))

	var last uint64
	for i := 0; i < 5; i++ {
		r := <-s.C()
		if r.Seq <= last {
			t.Errorf("seq went backwards: %d after %d", r.Seq, last)
		}
		last = r.Seq
		r.Frame.Close()
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	stats := s.Stats()
	if stats.Dropped == 0 {
		t.Error("expected frames to be dropped while the detector was busy")
	}
	if stats.Processed+stats.Dropped > uint64(src.Reads()) {
		t.Errorf("processed %d + dropped %d exceeds %d frames read", stats.Processed, stats.Dropped, src.Reads())
	}
}

func TestProcessStream_ThresholdChangeAppliesToLaterFrames(t *testing.T) {
	frames := newFrames(t, 1)
	p := newTestPipeline(t, echoDetector(0.5), Options{})

	threshold := NewThreshold(0.4)
	s := p.ProcessStream(context.Background(), capture.NewReplaySource(frames, true), threshold)
	defer s.Stop()

	first := <-s.C()
	if len(first.Frame.Detections) != 1 {
		t.Errorf("expected 1 detection at threshold 0.4, got %d", len(first.Frame.Detections))
	}
	first.Frame.Close()

	threshold.Store(0.6)

	switched := false
	for i := 0; i < 5; i++ {
		r := <-s.C()
		n := len(r.Frame.Detections)
		r.Frame.Close()

		if switched && n != 0 {
			t.Fatalf("frame %d used the old threshold after the new one took effect", r.Seq)
		}
		if n == 0 {
			switched = true
		}
	}
	if !switched {
		t.Error("threshold change never took effect")
	}
}

func TestProcessStream_StopsAfterReadErrors(t *testing.T) {
	src := &failingSource{err: errors.New("camera unplugged")}
	p := newTestPipeline(t, echoDetector(0.9), Options{MaxReadErrors: 3})

	s := p.ProcessStream(context.Background(), src, NewThreshold(0.4))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after repeated read errors")
	}

	if s.Err() == nil {
		t.Error("expected a stop reason")
	}
	if got := s.Stats().ReadErrors; got != 4 {
		t.Errorf("expected 4 read errors, got %d", got)
	}
	if !src.closed.Load() {
		t.Error("expected source to be closed")
	}
	if _, ok := <-s.C(); ok {
		t.Error("expected result channel to be closed")
	}
}

func TestProcessStream_PausesWhenConsumerIsSlow(t *testing.T) {
	frames := newFrames(t, 1)
	p := newTestPipeline(t, echoDetector(0.9), Options{})

	s := p.ProcessStream(context.Background(), capture.NewReplaySource(frames, true), NewThreshold(0.4))
	defer s.Stop()

	eventually(t, func() bool { return s.State() == StatePaused }, "stream never paused")

	r := <-s.C()
	r.Frame.Close()
}

func TestStream_Stop(t *testing.T) {
	frames := newFrames(t, 1)
	detector := echoDetector(0.9)
	src := capture.NewReplaySource(frames, true)
	p := newTestPipeline(t, detector, Options{})

	s := p.ProcessStream(context.Background(), src, NewThreshold(0.4))
	r := <-s.C()
	r.Frame.Close()

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	calls := detector.Calls()

	for r := range s.C() {
		r.Frame.Close()
	}
	time.Sleep(30 * time.Millisecond)

	if detector.Calls() != calls {
		t.Errorf("detector called %d more times after Stop", detector.Calls()-calls)
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestProcessStream_ContextCancel(t *testing.T) {
	frames := newFrames(t, 1)
	p := newTestPipeline(t, echoDetector(0.9), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	s := p.ProcessStream(ctx, capture.NewReplaySource(frames, true), NewThreshold(0.4))

	r := <-s.C()
	r.Frame.Close()
	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after context cancel")
	}
}
