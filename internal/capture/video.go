package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture settings for local cameras.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// VideoSource reads frames from a camera device, a video file or a stream URL.
type VideoSource struct {
	target  string
	file    bool
	capture *gocv.VideoCapture
	mu      sync.Mutex
	closed  bool
}

// OpenVideo opens target. A numeric target selects a camera device; an
// existing path is played as a file and ends with io.EOF; anything else is
// handed to OpenCV as a stream URL.
func OpenVideo(target string) (*VideoSource, error) {
	var (
		capture *gocv.VideoCapture
		err     error
		file    bool
	)

	if deviceID, convErr := strconv.Atoi(target); convErr == nil {
		capture, err = gocv.OpenVideoCapture(deviceID)
		if err == nil {
			capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
			capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
		}
	} else {
		if _, statErr := os.Stat(target); statErr == nil {
			file = true
		}
		capture, err = gocv.OpenVideoCapture(target)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open video source %q: %w", target, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video source %q could not be opened", target)
	}

	return &VideoSource{
		target:  target,
		file:    file,
		capture: capture,
	}, nil
}

// Read returns the next frame.
func (v *VideoSource) Read(ctx context.Context) (gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return gocv.Mat{}, io.EOF
	}

	mat := gocv.NewMat()
	if ok := v.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		if v.file {
			return gocv.Mat{}, io.EOF
		}
		return gocv.Mat{}, fmt.Errorf("%w from %s", ErrReadFailed, v.target)
	}

	return mat, nil
}

// Close releases the capture device. Safe to call more than once.
func (v *VideoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	return v.capture.Close()
}

// String names the source in logs.
func (v *VideoSource) String() string {
	return v.target
}
