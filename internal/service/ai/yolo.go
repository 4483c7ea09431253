package ai

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"sawit/internal/logger"
	"sawit/internal/model"

	"gocv.io/x/gocv"
)

const (
	// DefaultInputSize is the square network input of YOLOv8 exports.
	DefaultInputSize = 640
	// DefaultMinScore is the candidate floor applied before NMS.
	DefaultMinScore = 0.25
	// DefaultNMSThreshold is the IoU above which overlapping boxes of one class are suppressed.
	DefaultNMSThreshold = 0.45

	// classOffset separates boxes of different classes so NMS never suppresses across classes.
	classOffset = 7680
)

// letterboxFill is the padding colour used by the YOLO training pipeline.
var letterboxFill = gocv.NewScalar(114, 114, 114, 0)

// YOLOConfig configures a YOLODetector.
type YOLOConfig struct {
	ModelPath    string
	InputSize    int
	MinScore     float64
	NMSThreshold float64
}

// YOLODetector runs an ONNX YOLOv8 export through the OpenCV DNN module.
type YOLODetector struct {
	net    gocv.Net
	config YOLOConfig
	logger *logger.Logger
	mu     sync.Mutex // gocv.Net is not safe for concurrent Forward calls
	closed bool
}

// NewYOLODetector loads the network once. Any failure is reported as ErrModelUnavailable.
func NewYOLODetector(config YOLOConfig, logger *logger.Logger) (*YOLODetector, error) {
	if config.InputSize <= 0 {
		config.InputSize = DefaultInputSize
	}
	if config.MinScore <= 0 {
		config.MinScore = DefaultMinScore
	}
	if config.NMSThreshold <= 0 {
		config.NMSThreshold = DefaultNMSThreshold
	}

	d := &YOLODetector{
		config: config,
		logger: logger,
	}

	if err := d.initializeNet(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	return d, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (d *YOLODetector) initializeNet() error {
	if _, err := os.Stat(d.config.ModelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", d.config.ModelPath)
	}

	net := gocv.ReadNetFromONNX(d.config.ModelPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", d.config.ModelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	d.net = net
	d.logger.Info("Detection network loaded from %s (input %dx%d)", d.config.ModelPath, d.config.InputSize, d.config.InputSize)
	return nil
}

// Detect letterboxes the frame into the network input, runs a forward pass
// and returns NMS-filtered detections in source pixel coordinates.
func (d *YOLODetector) Detect(frame gocv.Mat) ([]model.RawDetection, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrInferenceFailure)
	}
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("%w: unsupported pixel format (%d channels, type %v)",
			ErrInferenceFailure, frame.Channels(), frame.Type())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("%w: detector closed", ErrInferenceFailure)
	}

	cols, rows := frame.Cols(), frame.Rows()
	side := max(cols, rows)

	square := gocv.NewMatWithSizeFromScalar(letterboxFill, side, side, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, cols, rows))
	frame.CopyTo(&roi)
	roi.Close()

	size := d.config.InputSize
	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrInferenceFailure, err)
	}

	scale := float64(side) / float64(size)
	candidates, err := decodeYOLOv8(data, output.Size(), scale, d.config.MinScore)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailure, err)
	}

	return suppress(candidates, d.config.MinScore, d.config.NMSThreshold), nil
}

// Close releases the network. Detect fails with ErrInferenceFailure afterwards.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.net.Empty() {
		return nil
	}
	return d.net.Close()
}

// decodeYOLOv8 turns a [1, 4+nc, N] output tensor into candidates. Each
// column holds cx, cy, w, h followed by one score per class. A [1, N, 4+nc]
// layout is accepted as well.
func decodeYOLOv8(data []float32, dims []int, scale, minScore float64) ([]model.RawDetection, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}

	attrs, anchors := dims[1], dims[2]
	transposed := false
	if attrs > anchors {
		attrs, anchors = anchors, attrs
		transposed = true
	}
	if attrs < 5 {
		return nil, fmt.Errorf("output has %d attributes, need at least 5", attrs)
	}
	if len(data) < attrs*anchors {
		return nil, fmt.Errorf("output holds %d values, shape %v needs %d", len(data), dims, attrs*anchors)
	}

	at := func(attr, anchor int) float64 {
		if transposed {
			return float64(data[anchor*attrs+attr])
		}
		return float64(data[attr*anchors+anchor])
	}

	var detections []model.RawDetection
	for i := 0; i < anchors; i++ {
		classID := -1
		best := 0.0
		for c := 4; c < attrs; c++ {
			if score := at(c, i); score > best {
				best = score
				classID = c - 4
			}
		}
		if classID < 0 || best < minScore {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		detections = append(detections, model.RawDetection{
			Box: model.BoundingBox{
				X1: (cx - w/2) * scale,
				Y1: (cy - h/2) * scale,
				X2: (cx + w/2) * scale,
				Y2: (cy + h/2) * scale,
			},
			ClassID:    classID,
			Confidence: math.Min(best, 1),
		})
	}

	return detections, nil
}

// suppress applies per-class non-maximum suppression and returns survivors in
// the order NMS kept them (highest score first).
func suppress(candidates []model.RawDetection, minScore, nmsThreshold float64) []model.RawDetection {
	if len(candidates) == 0 {
		return nil
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		offset := c.ClassID * classOffset
		boxes[i] = image.Rect(
			int(math.Round(c.Box.X1))+offset,
			int(math.Round(c.Box.Y1))+offset,
			int(math.Round(c.Box.X2))+offset,
			int(math.Round(c.Box.Y2))+offset,
		)
		scores[i] = float32(c.Confidence)
	}

	indices := gocv.NMSBoxes(boxes, scores, float32(minScore), float32(nmsThreshold))

	kept := make([]model.RawDetection, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(candidates) {
			kept = append(kept, candidates[idx])
		}
	}
	return kept
}
