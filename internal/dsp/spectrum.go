package dsp

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

var (
	// ErrInvalidFrameLength indicates a frame needs at least two samples
	ErrInvalidFrameLength = errors.New("frame length must be at least 2 samples")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidBand indicates the cutoff frequencies do not form a band within Nyquist
	ErrInvalidBand = errors.New("cutoff frequencies must satisfy 0 <= lower < upper <= sample rate / 2")
	// ErrFrameMismatch indicates the sample count differs from the frame length
	ErrFrameMismatch = errors.New("sample count does not match frame length")
)

// SpectrumConfig holds the session constants of the spectral frontend.
type SpectrumConfig struct {
	// SampleRate in Hz (from config: sample_rate)
	SampleRate float64
	// FrameLength is the number of samples per block
	FrameLength int
	// CutoffLower is the lower band limit in Hz (from config: cutoff_lower)
	CutoffLower float64
	// CutoffUpper is the upper band limit in Hz (from config: cutoff_upper)
	CutoffUpper float64
}

// Spectrum computes the band-limited magnitude spectrum of one frame.
// The window, the frequency axis and the band indices are computed once and
// never change. Magnitudes reuses internal buffers, so a Spectrum must only
// be used from one goroutine.
type Spectrum struct {
	config SpectrumConfig

	window     []float64
	freqs      []float64 // restricted to [lowerIndex, upperIndex]
	lowerIndex int
	upperIndex int

	fft      *fourier.FFT
	windowed []float64
	coeffs   []complex128
	mags     []float64
}

// NewSpectrum precomputes the window and the restricted frequency axis.
func NewSpectrum(cfg SpectrumConfig) (*Spectrum, error) {
	if cfg.FrameLength < 2 {
		return nil, ErrInvalidFrameLength
	}
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.CutoffLower < 0 || cfg.CutoffLower >= cfg.CutoffUpper || cfg.CutoffUpper > cfg.SampleRate/2 {
		return nil, ErrInvalidBand
	}

	allFreqs := BinFrequencies(cfg.SampleRate, cfg.FrameLength)
	lower := NearestBin(allFreqs, cfg.CutoffLower)
	upper := NearestBin(allFreqs, cfg.CutoffUpper)

	freqs := make([]float64, upper-lower+1)
	copy(freqs, allFreqs[lower:upper+1])

	return &Spectrum{
		config:     cfg,
		window:     window.Hann(cfg.FrameLength),
		freqs:      freqs,
		lowerIndex: lower,
		upperIndex: upper,
		fft:        fourier.NewFFT(cfg.FrameLength),
		windowed:   make([]float64, cfg.FrameLength),
		coeffs:     make([]complex128, cfg.FrameLength/2+1),
		mags:       make([]float64, len(freqs)),
	}, nil
}

// BinFrequencies returns the frequencies of the real FFT bins, b*R/N for b in [0, N/2].
func BinFrequencies(sampleRate float64, n int) []float64 {
	freqs := make([]float64, n/2+1)
	for b := range freqs {
		freqs[b] = float64(b) * sampleRate / float64(n)
	}
	return freqs
}

// NearestBin returns the index of the frequency closest to f. On ties the
// lower index wins.
func NearestBin(freqs []float64, f float64) int {
	best := 0
	bestDelta := math.Inf(1)
	for i, freq := range freqs {
		if delta := math.Abs(freq - f); delta < bestDelta {
			best = i
			bestDelta = delta
		}
	}
	return best
}

// Magnitudes windows the samples, runs the FFT and returns the absolute
// values of the bins inside the band. The returned slice is overwritten by
// the next call.
func (s *Spectrum) Magnitudes(samples []float64) ([]float64, error) {
	if len(samples) != s.config.FrameLength {
		return nil, ErrFrameMismatch
	}

	for i, sample := range samples {
		s.windowed[i] = sample * s.window[i]
	}

	s.coeffs = s.fft.Coefficients(s.coeffs, s.windowed)
	for i := range s.mags {
		s.mags[i] = cmplx.Abs(s.coeffs[s.lowerIndex+i])
	}
	return s.mags, nil
}

// Frequencies returns the restricted frequency axis.
func (s *Spectrum) Frequencies() []float64 {
	return s.freqs
}

// Window returns the window coefficients.
func (s *Spectrum) Window() []float64 {
	return s.window
}

// LowerIndex returns the FFT bin index of the lower band limit.
func (s *Spectrum) LowerIndex() int {
	return s.lowerIndex
}

// UpperIndex returns the FFT bin index of the upper band limit.
func (s *Spectrum) UpperIndex() int {
	return s.upperIndex
}

// BinWidth returns the frequency resolution in Hz.
func (s *Spectrum) BinWidth() float64 {
	return s.config.SampleRate / float64(s.config.FrameLength)
}

// Config returns the current configuration
func (s *Spectrum) Config() SpectrumConfig {
	return s.config
}
