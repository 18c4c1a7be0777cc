package dsp

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/chrizbee/whistledetector/internal/pattern"
)

var (
	// ErrMatcherRequired indicates a pattern matcher instance is required
	ErrMatcherRequired = errors.New("pattern matcher is required")
	// ErrInvalidBlockSize indicates the block must hold at least one byte
	ErrInvalidBlockSize = errors.New("block size must be positive")
)

// PatternCallback is called once per completed pattern, after the matcher
// has been reset. Called from the processing goroutine - must be fast.
type PatternCallback func()

// Observer receives per-block diagnostics. All methods are called from the
// processing goroutine.
type Observer interface {
	// BlockProcessed is called for every block, enabled or not
	BlockProcessed(enabled bool)
	// Observed is called for every analyzed block with the matcher outcome and the step afterwards
	Observed(obs Observation, result pattern.Result, step int)
	// TimedOut is called when an in-progress match is aborted by the debounce deadline
	TimedOut()
}

// Observers fans out to several observers.
type Observers []Observer

func (o Observers) BlockProcessed(enabled bool) {
	for _, obs := range o {
		obs.BlockProcessed(enabled)
	}
}

func (o Observers) Observed(obs Observation, result pattern.Result, step int) {
	for _, observer := range o {
		observer.Observed(obs, result, step)
	}
}

func (o Observers) TimedOut() {
	for _, obs := range o {
		obs.TimedOut()
	}
}

// DetectorConfig holds configuration for the whistle detector.
// All values should come from the application config file.
type DetectorConfig struct {
	// SampleRate in Hz (from config: sample_rate, negotiated with the device)
	SampleRate float64
	// BitDepth of the signed PCM samples (from config: bit_depth, negotiated with the device)
	BitDepth int
	// ByteOrder of the PCM samples (from config: byte_order)
	ByteOrder ByteOrder
	// BlockBytes is the fixed block length in bytes (period frames * bytes per sample)
	BlockBytes int
	// CutoffLower is the lower band limit in Hz (from config: cutoff_lower)
	CutoffLower float64
	// CutoffUpper is the upper band limit in Hz (from config: cutoff_upper)
	CutoffUpper float64
	// Peak holds the magnitude cutoff, prominence and smoothing settings
	Peak PeakConfig
	// Clock returns the time of the block being processed by Write, time.Now if nil
	Clock func() time.Time
}

// Detector runs raw PCM blocks through decoding, windowed FFT and peak
// extraction, and feeds strong peaks into the pattern matcher.
//
// Write and ProcessBlock must be called from a single goroutine.
// SetEnabled, SetCallback and SetObserver may be called from anywhere; they
// take effect between blocks.
type Detector struct {
	config    DetectorConfig
	decoder   *SampleDecoder
	spectrum  *Spectrum
	extractor *PeakExtractor
	matcher   *pattern.Matcher
	clock     func() time.Time

	samples []float64
	pending []byte

	enabled     atomic.Bool
	callbackPtr atomic.Pointer[PatternCallback]
	observerPtr atomic.Pointer[Observer]
}

// NewDetector creates a new whistle detector. All configuration errors are
// reported here so that a running detector never fails on a block.
func NewDetector(cfg DetectorConfig, matcher *pattern.Matcher) (*Detector, error) {
	if matcher == nil {
		return nil, ErrMatcherRequired
	}
	if cfg.BlockBytes <= 0 {
		return nil, ErrInvalidBlockSize
	}

	decoder, err := NewSampleDecoder(cfg.BitDepth, cfg.ByteOrder)
	if err != nil {
		return nil, err
	}
	frameLength, err := decoder.SampleCount(cfg.BlockBytes)
	if err != nil {
		return nil, err
	}

	spectrum, err := NewSpectrum(SpectrumConfig{
		SampleRate:  cfg.SampleRate,
		FrameLength: frameLength,
		CutoffLower: cfg.CutoffLower,
		CutoffUpper: cfg.CutoffUpper,
	})
	if err != nil {
		return nil, err
	}

	extractor, err := NewPeakExtractor(cfg.Peak)
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	d := &Detector{
		config:    cfg,
		decoder:   decoder,
		spectrum:  spectrum,
		extractor: extractor,
		matcher:   matcher,
		clock:     clock,
		samples:   make([]float64, frameLength),
		pending:   make([]byte, 0, 2*cfg.BlockBytes),
	}
	d.enabled.Store(true)
	return d, nil
}

// SetCallback sets the callback for detected patterns.
func (d *Detector) SetCallback(cb PatternCallback) {
	if cb == nil {
		d.callbackPtr.Store(nil)
	} else {
		d.callbackPtr.Store(&cb)
	}
}

// SetObserver sets the observer for per-block diagnostics.
func (d *Detector) SetObserver(o Observer) {
	if o == nil {
		d.observerPtr.Store(nil)
	} else {
		d.observerPtr.Store(&o)
	}
}

// SetEnabled turns analysis on or off. Disabling keeps a partial match; it
// survives re-enabling only if its deadline has not passed meanwhile.
func (d *Detector) SetEnabled(enabled bool) {
	d.enabled.Store(enabled)
}

// Enabled reports whether analysis is on.
func (d *Detector) Enabled() bool {
	return d.enabled.Load()
}

// Write buffers raw PCM bytes and processes every complete block. Bytes of
// an incomplete trailing block are kept for the next call. Write never fails.
func (d *Detector) Write(p []byte) (int, error) {
	d.pending = append(d.pending, p...)

	offset := 0
	for len(d.pending)-offset >= d.config.BlockBytes {
		d.ProcessBlock(d.pending[offset:offset+d.config.BlockBytes], d.clock())
		offset += d.config.BlockBytes
	}

	n := copy(d.pending, d.pending[offset:])
	d.pending = d.pending[:n]

	return len(p), nil
}

// Pending returns the number of buffered bytes that do not yet form a block.
func (d *Detector) Pending() int {
	return len(d.pending)
}

// ProcessBlock analyzes one block received at time now. It returns the
// observation and true if the block was analyzed, false if the detector is
// disabled or the block has the wrong length.
func (d *Detector) ProcessBlock(block []byte, now time.Time) (Observation, bool) {
	observer := d.observer()

	if d.matcher.Expire(now) && observer != nil {
		observer.TimedOut()
	}

	enabled := d.enabled.Load()
	if observer != nil {
		observer.BlockProcessed(enabled)
	}
	if !enabled || len(block) != d.config.BlockBytes {
		return Observation{}, false
	}

	samples, err := d.decoder.Decode(d.samples, block)
	if err != nil {
		return Observation{}, false
	}
	d.samples = samples

	mags, err := d.spectrum.Magnitudes(samples)
	if err != nil {
		return Observation{}, false
	}

	obs := d.extractor.Extract(d.spectrum.Frequencies(), mags)
	obs.Timestamp = now

	result := pattern.Ignored
	if obs.Strong {
		result = d.matcher.Observe(obs.Frequency, now)
	}

	if observer != nil {
		observer.Observed(obs, result, d.matcher.Step())
	}
	if result == pattern.Detected {
		d.emitPattern()
	}

	return obs, true
}

func (d *Detector) observer() Observer {
	if p := d.observerPtr.Load(); p != nil {
		return *p
	}
	return nil
}

// emitPattern calls the registered callback if set
func (d *Detector) emitPattern() {
	cbPtr := d.callbackPtr.Load()
	if cbPtr != nil {
		(*cbPtr)()
	}
}

// Matcher returns the pattern matcher.
func (d *Detector) Matcher() *pattern.Matcher {
	return d.matcher
}

// Spectrum returns the spectral frontend.
func (d *Detector) Spectrum() *Spectrum {
	return d.spectrum
}

// FrameLength returns the number of samples per block.
func (d *Detector) FrameLength() int {
	return len(d.samples)
}

// Reset clears buffered bytes, smoothing history and any partial match.
func (d *Detector) Reset() {
	d.pending = d.pending[:0]
	d.extractor.Reset()
	d.matcher.Reset()
}

// Config returns the current configuration
func (d *Detector) Config() DetectorConfig {
	return d.config
}
