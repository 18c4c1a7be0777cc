package dsp

import "errors"

// ErrInvalidSmoothing indicates the smoothing window must hold at least one value
var ErrInvalidSmoothing = errors.New("smoothing window size must be at least 1")

// LowPass is a moving average over the last Size values. Empty slots count
// as zero, so the first Size-1 outputs are biased low.
type LowPass struct {
	values []float64
	pos    int
}

// NewLowPass creates a moving average over size values.
func NewLowPass(size int) (*LowPass, error) {
	if size < 1 {
		return nil, ErrInvalidSmoothing
	}
	return &LowPass{values: make([]float64, size)}, nil
}

// Add replaces the oldest value and returns the mean of all slots.
func (l *LowPass) Add(value float64) float64 {
	l.values[l.pos] = value
	l.pos = (l.pos + 1) % len(l.values)

	var sum float64
	for _, v := range l.values {
		sum += v
	}
	return sum / float64(len(l.values))
}

// Size returns the window size.
func (l *LowPass) Size() int {
	return len(l.values)
}

// Reset clears all slots.
func (l *LowPass) Reset() {
	for i := range l.values {
		l.values[i] = 0
	}
	l.pos = 0
}
