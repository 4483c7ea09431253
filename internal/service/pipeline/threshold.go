package pipeline

import (
	"math"
	"sync/atomic"
)

// Threshold is the confidence cutoff shared between the control surface and
// running streams. Readers never block writers; the latest Store wins.
type Threshold struct {
	bits atomic.Uint64
}

// NewThreshold returns a cell holding v clamped to [0, 1].
func NewThreshold(v float64) *Threshold {
	t := &Threshold{}
	t.Store(v)
	return t
}

// Load returns the current threshold.
func (t *Threshold) Load() float64 {
	return math.Float64frombits(t.bits.Load())
}

// Store clamps v to [0, 1], publishes it and returns the stored value.
func (t *Threshold) Store(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	t.bits.Store(math.Float64bits(v))
	return v
}
