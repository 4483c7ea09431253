package ai

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"sawit/internal/model"

	"gocv.io/x/gocv"
)

const epsilon = 1e-6

// column-major [1, attrs, anchors] tensor; anchors beyond columns stay zero
func tensor(attrs, anchors int, columns ...[]float32) []float32 {
	data := make([]float32, attrs*anchors)
	for i, col := range columns {
		for a, v := range col {
			data[a*anchors+i] = v
		}
	}
	return data
}

func TestDecodeYOLOv8(t *testing.T) {
	data := tensor(7, 16,
		[]float32{100, 100, 20, 40, 0.10, 0.80, 0.05},
		[]float32{50, 50, 10, 10, 0.10, 0.10, 0.10},
		[]float32{300, 200, 60, 60, 0.02, 0.03, 0.90},
	)

	got, err := decodeYOLOv8(data, []int{1, 7, 16}, 2.0, 0.25)
	if err != nil {
		t.Fatalf("decodeYOLOv8() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}

	first := got[0]
	if first.ClassID != 1 {
		t.Errorf("expected class 1, got %d", first.ClassID)
	}
	if math.Abs(first.Confidence-0.80) > epsilon {
		t.Errorf("expected confidence 0.80, got %f", first.Confidence)
	}
	want := model.BoundingBox{X1: 180, Y1: 160, X2: 220, Y2: 240}
	if first.Box != want {
		t.Errorf("expected box %+v, got %+v", want, first.Box)
	}

	if got[1].ClassID != 2 {
		t.Errorf("expected second candidate class 2, got %d", got[1].ClassID)
	}
}

func TestDecodeYOLOv8_Transposed(t *testing.T) {
	// [1, anchors, attrs] row-major
	data := []float32{
		10, 10, 4, 4, 0.9, 0.0, 0.0,
		20, 20, 4, 4, 0.0, 0.0, 0.1,
	}
	// pad with low-score rows so anchors > attrs
	for i := 0; i < 6; i++ {
		data = append(data, 0, 0, 0, 0, 0, 0, 0)
	}

	got, err := decodeYOLOv8(data, []int{1, 8, 7}, 1.0, 0.25)
	if err != nil {
		t.Fatalf("decodeYOLOv8() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].ClassID != 0 || got[0].Box.X1 != 8 || got[0].Box.Y2 != 12 {
		t.Errorf("unexpected candidate %+v", got[0])
	}
}

func TestDecodeYOLOv8_MalformedOutput(t *testing.T) {
	tests := []struct {
		name string
		data []float32
		dims []int
	}{
		{"wrong rank", make([]float32, 14), []int{7, 2}},
		{"batch of two", make([]float32, 28), []int{2, 7, 2}},
		{"too few attributes", make([]float32, 32), []int{1, 4, 8}},
		{"short buffer", make([]float32, 5), []int{1, 7, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeYOLOv8(tt.data, tt.dims, 1, 0.25); err == nil {
				t.Error("expected error for malformed output")
			}
		})
	}
}

func TestSuppress(t *testing.T) {
	t.Run("overlapping boxes of one class", func(t *testing.T) {
		candidates := []model.RawDetection{
			{Box: model.BoundingBox{X1: 10, Y1: 10, X2: 110, Y2: 110}, ClassID: 1, Confidence: 0.70},
			{Box: model.BoundingBox{X1: 12, Y1: 12, X2: 112, Y2: 112}, ClassID: 1, Confidence: 0.90},
		}
		kept := suppress(candidates, 0.25, 0.45)
		if len(kept) != 1 {
			t.Fatalf("expected 1 survivor, got %d", len(kept))
		}
		if kept[0].Confidence != 0.90 {
			t.Errorf("expected the stronger box to survive, got %f", kept[0].Confidence)
		}
	})

	t.Run("overlapping boxes of different classes", func(t *testing.T) {
		candidates := []model.RawDetection{
			{Box: model.BoundingBox{X1: 10, Y1: 10, X2: 110, Y2: 110}, ClassID: 0, Confidence: 0.70},
			{Box: model.BoundingBox{X1: 12, Y1: 12, X2: 112, Y2: 112}, ClassID: 2, Confidence: 0.90},
		}
		if kept := suppress(candidates, 0.25, 0.45); len(kept) != 2 {
			t.Errorf("expected both classes to survive, got %d", len(kept))
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		if kept := suppress(nil, 0.25, 0.45); kept != nil {
			t.Errorf("expected nil, got %v", kept)
		}
	})
}

func TestNewYOLODetector_MissingModel(t *testing.T) {
	_, err := NewYOLODetector(YOLOConfig{ModelPath: filepath.Join(t.TempDir(), "missing.onnx")}, nil)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestYOLODetector_DetectAfterClose(t *testing.T) {
	// state left by Close: the network is released and must not be touched again
	d := &YOLODetector{config: YOLOConfig{InputSize: DefaultInputSize}, closed: true}

	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 32, 32, gocv.MatTypeCV8UC3)
	defer frame.Close()

	detections, err := d.Detect(frame)
	if !errors.Is(err, ErrInferenceFailure) {
		t.Errorf("expected ErrInferenceFailure after Close, got %v", err)
	}
	if detections != nil {
		t.Errorf("expected no detections, got %v", detections)
	}
}
