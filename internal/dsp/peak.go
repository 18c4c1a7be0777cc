package dsp

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCutoffMagnitude indicates the magnitude cutoff must be non-negative
	ErrInvalidCutoffMagnitude = errors.New("cutoff magnitude must be non-negative")
	// ErrInvalidMaxToMean indicates the prominence ratio must be non-negative
	ErrInvalidMaxToMean = errors.New("max to mean ratio must be non-negative")
)

// Observation is the dominant tone of one block.
type Observation struct {
	// Frequency of the strongest bin in the band
	Frequency float64
	// Magnitude after smoothing
	Magnitude float64
	// RawMagnitude before smoothing
	RawMagnitude float64
	// Mean magnitude over the band
	Mean float64
	// Strong is true when the peak passed the cutoff and prominence checks
	Strong bool
	// Timestamp of the block
	Timestamp time.Time
}

// Prominence returns the peak to mean ratio, 0 for an empty band.
func (o Observation) Prominence() float64 {
	if o.Mean <= 0 {
		return 0
	}
	return o.Magnitude / o.Mean
}

// PeakConfig holds configuration for the peak extractor.
type PeakConfig struct {
	// CutoffMagnitude is the absolute magnitude a peak must exceed (from config: cutoff_mag)
	CutoffMagnitude float64
	// MaxToMean is the required peak to mean ratio, 0 disables the check (from config: max_to_mean)
	MaxToMean float64
	// Smoothing is the moving average size over peak magnitudes, 1 disables it (from config: smoothing)
	Smoothing int
}

// PeakExtractor finds the dominant bin of a band-limited spectrum and
// decides whether it is strong enough to count as a tone.
type PeakExtractor struct {
	config   PeakConfig
	smoother *LowPass
}

// NewPeakExtractor creates a peak extractor.
func NewPeakExtractor(cfg PeakConfig) (*PeakExtractor, error) {
	if cfg.CutoffMagnitude < 0 {
		return nil, ErrInvalidCutoffMagnitude
	}
	if cfg.MaxToMean < 0 {
		return nil, ErrInvalidMaxToMean
	}
	if cfg.Smoothing < 1 {
		return nil, ErrInvalidSmoothing
	}

	e := &PeakExtractor{config: cfg}
	if cfg.Smoothing > 1 {
		e.smoother, _ = NewLowPass(cfg.Smoothing)
	}
	return e, nil
}

// Extract evaluates one spectrum. freqs and mags must have the same length.
func (e *PeakExtractor) Extract(freqs, mags []float64) Observation {
	if len(mags) == 0 {
		return Observation{}
	}

	maxIdx := 0
	var sum float64
	for i, m := range mags {
		if m > mags[maxIdx] {
			maxIdx = i
		}
		sum += m
	}

	raw := mags[maxIdx]
	mag := raw
	if e.smoother != nil {
		mag = e.smoother.Add(raw)
	}

	obs := Observation{
		Frequency:    freqs[maxIdx],
		Magnitude:    mag,
		RawMagnitude: raw,
		Mean:         sum / float64(len(mags)),
	}

	obs.Strong = mag > e.config.CutoffMagnitude
	if obs.Strong && e.config.MaxToMean > 0 {
		obs.Strong = obs.Prominence() > e.config.MaxToMean
	}
	return obs
}

// Reset clears the smoothing history.
func (e *PeakExtractor) Reset() {
	if e.smoother != nil {
		e.smoother.Reset()
	}
}

// Config returns the current configuration
func (e *PeakExtractor) Config() PeakConfig {
	return e.config
}
