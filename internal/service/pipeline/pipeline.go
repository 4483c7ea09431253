// Package pipeline turns frames into annotated frames. Single images run
// synchronously on the caller's goroutine; streams run a reader and a worker
// goroutine connected by a bounded mailbox.
package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"sawit/internal/logger"
	"sawit/internal/model"
	"sawit/internal/service/ai"
	"sawit/internal/service/annotate"

	"gocv.io/x/gocv"
)

// ErrMalformedInput is returned for input that is not a decodable image.
var ErrMalformedInput = errors.New("malformed input")

// Defaults for Options.
const (
	DefaultQueueSize     = 1
	DefaultMaxReadErrors = 30
)

// Options tunes stream behaviour.
type Options struct {
	// QueueSize is how many frames may wait for the detector before the
	// oldest is dropped.
	QueueSize int
	// MaxReadErrors is how many consecutive source read errors a stream
	// tolerates before it stops.
	MaxReadErrors int
}

// Stats is a snapshot of pipeline-wide counters.
type Stats struct {
	Processed     uint64 `json:"processed"`
	Dropped       uint64 `json:"dropped"`
	Failed        uint64 `json:"failed"`
	ReadErrors    uint64 `json:"read_errors"`
	ActiveStreams int64  `json:"active_streams"`
}

// Pipeline composes a detector with the annotation engine.
type Pipeline struct {
	detector ai.Detector
	labels   annotate.LabelFunc
	logger   *logger.Logger
	options  Options

	processed     atomic.Uint64
	dropped       atomic.Uint64
	failed        atomic.Uint64
	readErrors    atomic.Uint64
	activeStreams atomic.Int64
}

// New builds a pipeline around a loaded detector.
func New(detector ai.Detector, labels annotate.LabelFunc, logger *logger.Logger, options Options) (*Pipeline, error) {
	if detector == nil {
		return nil, fmt.Errorf("%w: no detector", ai.ErrModelUnavailable)
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	if options.MaxReadErrors <= 0 {
		options.MaxReadErrors = DefaultMaxReadErrors
	}

	return &Pipeline{
		detector: detector,
		labels:   labels,
		logger:   logger,
		options:  options,
	}, nil
}

// ProcessOne detects and annotates a single frame. The frame is not modified
// and stays owned by the caller; the result must be closed.
//
// In every mode the threshold is read once per frame, when inference has
// finished and annotation starts; a stream therefore applies a threshold
// change from the next frame whose inference completes.
func (p *Pipeline) ProcessOne(frame gocv.Mat, threshold float64) (*model.AnnotatedFrame, error) {
	return p.process(frame, func() float64 { return threshold })
}

// ProcessImage decodes an encoded JPEG, PNG, BMP or WEBP image and processes it.
func (p *Pipeline) ProcessImage(data []byte, threshold float64) (*model.AnnotatedFrame, error) {
	frame, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	defer frame.Close()

	return p.ProcessOne(frame, threshold)
}

func (p *Pipeline) process(frame gocv.Mat, threshold func() float64) (*model.AnnotatedFrame, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedInput)
	}

	detections, err := p.detector.Detect(frame)
	if err != nil {
		p.failed.Add(1)
		if !errors.Is(err, ai.ErrInferenceFailure) {
			err = fmt.Errorf("%w: %v", ai.ErrInferenceFailure, err)
		}
		return nil, err
	}

	annotated, err := annotate.Annotate(frame, detections, threshold(), p.labels)
	if err != nil {
		p.failed.Add(1)
		return nil, fmt.Errorf("%w: %v", ai.ErrInferenceFailure, err)
	}

	p.processed.Add(1)
	return annotated, nil
}

// Stats returns counters aggregated over every call and stream.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:     p.processed.Load(),
		Dropped:       p.dropped.Load(),
		Failed:        p.failed.Load(),
		ReadErrors:    p.readErrors.Load(),
		ActiveStreams: p.activeStreams.Load(),
	}
}

// Close releases the detector.
func (p *Pipeline) Close() error {
	return p.detector.Close()
}
