package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"sawit/internal/capture"
	"sawit/internal/model"
)

const readRetryDelay = 20 * time.Millisecond

// State is the lifecycle state of a Stream.
type State int32

const (
	StateIdle    State = iota
	StateRunning       // frames flowing
	StatePaused        // worker waiting for the consumer to receive
	StateStopped       // source exhausted, failed or cancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Result is one annotated frame. Seq is the position of the frame in the
// source, starting at 1; dropped frames leave gaps. The receiver owns Frame.
type Result struct {
	Seq   uint64
	Frame *model.AnnotatedFrame
}

// StreamStats is a snapshot of one stream's counters.
type StreamStats struct {
	State      string `json:"state"`
	Processed  uint64 `json:"processed"`
	Dropped    uint64 `json:"dropped"`
	Failed     uint64 `json:"failed"`
	ReadErrors uint64 `json:"read_errors"`
}

// Stream is a running stream-mode session.
type Stream struct {
	pipeline  *Pipeline
	source    capture.Source
	threshold *Threshold
	mailbox   *mailbox
	results   chan Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error

	state      atomic.Int32
	processed  atomic.Uint64
	dropped    atomic.Uint64
	failed     atomic.Uint64
	readErrors atomic.Uint64
}

// ProcessStream starts processing frames from src until it is exhausted,
// ctx is cancelled or Stop is called. The stream owns src and closes it.
// Results arrive on C() in source order; the channel is closed when the
// stream stops. Each frame is annotated with the value threshold holds when
// that frame's inference completes.
func (p *Pipeline) ProcessStream(ctx context.Context, src capture.Source, threshold *Threshold) *Stream {
	ctx, cancel := context.WithCancel(ctx)

	s := &Stream{
		pipeline:  p,
		source:    src,
		threshold: threshold,
		mailbox:   newMailbox(p.options.QueueSize),
		results:   make(chan Result),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	p.activeStreams.Add(1)
	s.state.Store(int32(StateRunning))

	s.wg.Add(2)
	go s.readLoop()
	go s.workLoop()

	go func() {
		s.wg.Wait()
		s.mailbox.close()
		s.closeSource()
		s.cancel()
		s.state.Store(int32(StateStopped))
		p.activeStreams.Add(-1)
		close(s.done)
	}()

	return s
}

// readLoop pulls frames from the source into the mailbox.
func (s *Stream) readLoop() {
	defer s.wg.Done()
	defer s.mailbox.finish()

	var seq uint64
	consecutive := 0

	for {
		frame, err := s.source.Read(s.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || s.ctx.Err() != nil {
				return
			}

			consecutive++
			s.readErrors.Add(1)
			s.pipeline.readErrors.Add(1)
			if consecutive > s.pipeline.options.MaxReadErrors {
				s.setErr(fmt.Errorf("stopping after %d consecutive read errors: %w", consecutive, err))
				s.pipeline.logger.Error("Stream stopped: %v", err)
				return
			}

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		consecutive = 0
		seq++
		if s.mailbox.put(item{seq: seq, frame: frame}) {
			s.dropped.Add(1)
			s.pipeline.dropped.Add(1)
		}
	}
}

// workLoop is the only consumer of the mailbox, so results keep source order.
func (s *Stream) workLoop() {
	defer s.wg.Done()
	defer close(s.results)

	for {
		it, ok := s.mailbox.take()
		if !ok {
			return
		}
		if s.ctx.Err() != nil {
			it.frame.Close()
			return
		}

		annotated, err := s.pipeline.process(it.frame, s.threshold.Load)
		it.frame.Close()
		if err != nil {
			s.failed.Add(1)
			s.pipeline.logger.Warning("Frame %d skipped: %v", it.seq, err)
			continue
		}
		s.processed.Add(1)

		if !s.deliver(Result{Seq: it.seq, Frame: annotated}) {
			annotated.Close()
			return
		}
	}
}

// deliver blocks until the consumer receives r, marking the stream paused
// while it waits.
func (s *Stream) deliver(r Result) bool {
	select {
	case s.results <- r:
		return true
	default:
	}

	s.state.CompareAndSwap(int32(StateRunning), int32(StatePaused))
	defer s.state.CompareAndSwap(int32(StatePaused), int32(StateRunning))

	select {
	case s.results <- r:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Stream) closeSource() {
	s.closeOnce.Do(func() {
		s.closeErr = s.source.Close()
	})
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// C returns the result channel.
func (s *Stream) C() <-chan Result {
	return s.results
}

// Done is closed once both goroutines have exited and the source is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream stopped on its own, or nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Stop cancels the stream, discards queued frames, closes the source and
// waits for both goroutines. The detector is not called again after the
// in-flight frame.
func (s *Stream) Stop() error {
	s.cancel()
	s.mailbox.close()
	s.closeSource()
	<-s.done
	return s.closeErr
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		State:      s.State().String(),
		Processed:  s.processed.Load(),
		Dropped:    s.dropped.Load(),
		Failed:     s.failed.Load(),
		ReadErrors: s.readErrors.Load(),
	}
}
