// Package capture provides frame sources feeding the stream pipeline.
package capture

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

// ErrReadFailed is a transient read failure; the source may recover.
var ErrReadFailed = errors.New("failed to read frame")

// Source yields BGR frames in capture order. Read returns io.EOF once the
// source is exhausted or closed. The caller owns every returned Mat.
type Source interface {
	Read(ctx context.Context) (gocv.Mat, error)
	Close() error
}
