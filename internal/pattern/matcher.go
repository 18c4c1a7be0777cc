// Package pattern recognizes a fixed sequence of whistled tones from a
// stream of frequency observations.
package pattern

import (
	"errors"
	"math"
	"time"
)

// FirstToneToleranceFactor widens the frequency tolerance for the first tone,
// which has no timing anchor yet.
const FirstToneToleranceFactor = 1.5

var (
	// ErrEmptyPattern indicates the pattern needs at least one tone
	ErrEmptyPattern = errors.New("pattern must contain at least one tone")
	// ErrInvalidPause indicates the pause between tones must be positive
	ErrInvalidPause = errors.New("pause must be positive")
	// ErrInvalidFrequencyTolerance indicates the frequency tolerance must be non-negative
	ErrInvalidFrequencyTolerance = errors.New("frequency tolerance must be non-negative")
	// ErrInvalidTimingTolerance indicates the timing tolerance must be non-negative
	ErrInvalidTimingTolerance = errors.New("timing tolerance must be non-negative")
)

// Result is the outcome of a single observation.
type Result int

const (
	// Ignored is reported for observations that never reached the matcher
	// (weak peak, low prominence).
	Ignored Result = iota
	// Rejected means the tone did not fit the next step; state is untouched.
	Rejected
	// Accepted means the tone advanced the match by one step.
	Accepted
	// Detected means the tone completed the pattern. The matcher has already
	// been reset when this is returned.
	Detected
)

func (r Result) String() string {
	switch r {
	case Ignored:
		return "ignored"
	case Rejected:
		return "rejected"
	case Accepted:
		return "accepted"
	case Detected:
		return "detected"
	default:
		return "unknown"
	}
}

// Config holds the matcher configuration.
type Config struct {
	// Tones are the absolute tone frequencies in Hz, in order (from config: pattern)
	Tones []float64
	// Pause is the nominal silence between two tones (from config: pause_ms)
	Pause time.Duration
	// MaxDeltaF is the allowed frequency deviation in Hz (from config: delta_f)
	MaxDeltaF float64
	// MaxDeltaT is the allowed deviation from Pause (from config: delta_t_ms)
	MaxDeltaT time.Duration
}

// Matcher is a debounced state machine over tone observations.
//
// The debounce timer is an explicit deadline compared against the time
// passed in by the caller, so the matcher never reads a clock itself.
// Matcher is not safe for concurrent use; block processing and timeouts
// are expected to run on one goroutine.
type Matcher struct {
	config Config
	steps  []float64

	step     int
	baseline float64
	deadline time.Time
}

// NewMatcher creates a matcher for the configured tone sequence.
func NewMatcher(cfg Config) (*Matcher, error) {
	if len(cfg.Tones) == 0 {
		return nil, ErrEmptyPattern
	}
	if cfg.Pause <= 0 {
		return nil, ErrInvalidPause
	}
	if cfg.MaxDeltaF < 0 {
		return nil, ErrInvalidFrequencyTolerance
	}
	if cfg.MaxDeltaT < 0 {
		return nil, ErrInvalidTimingTolerance
	}

	tones := append([]float64(nil), cfg.Tones...)
	cfg.Tones = tones

	return &Matcher{
		config: cfg,
		steps:  Steps(tones),
	}, nil
}

// Steps turns absolute tones into the step sequence the matcher walks:
// the first entry is absolute, every further entry is the offset from the
// previous tone.
func Steps(tones []float64) []float64 {
	steps := make([]float64, len(tones))
	for i, tone := range tones {
		if i == 0 {
			steps[i] = tone
			continue
		}
		steps[i] = tone - tones[i-1]
	}
	return steps
}

// Observe feeds a strong tone observed at time now.
func (m *Matcher) Observe(freq float64, now time.Time) Result {
	m.Expire(now)

	k := m.step
	expected := m.baseline + m.steps[k]
	deltaF := math.Abs(freq - expected)

	if k == 0 {
		if deltaF > m.config.MaxDeltaF*FirstToneToleranceFactor {
			return Rejected
		}
		m.baseline = freq
	} else {
		deltaT := absDuration(m.Remaining(now) - m.config.MaxDeltaT)
		if deltaF > m.config.MaxDeltaF || deltaT > m.config.MaxDeltaT {
			return Rejected
		}
		m.baseline = expected
	}

	m.step++
	if m.step == len(m.steps) {
		m.Reset()
		return Detected
	}

	m.deadline = now.Add(m.config.Pause + m.config.MaxDeltaT)
	return Accepted
}

// Expire aborts an in-progress match whose deadline has passed.
// It returns true if the match was aborted.
func (m *Matcher) Expire(now time.Time) bool {
	if m.step == 0 || now.Before(m.deadline) {
		return false
	}
	m.Reset()
	return true
}

// Reset returns the matcher to its initial state.
func (m *Matcher) Reset() {
	m.step = 0
	m.baseline = 0
	m.deadline = time.Time{}
}

// Remaining returns the time left on the debounce timer, or 0 when it is
// not running.
func (m *Matcher) Remaining(now time.Time) time.Duration {
	if m.step == 0 {
		return 0
	}
	remaining := m.deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Active reports whether the debounce timer is running.
func (m *Matcher) Active() bool {
	return m.step > 0
}

// Step returns the index of the next expected tone.
func (m *Matcher) Step() int {
	return m.step
}

// Baseline returns the current reference frequency.
func (m *Matcher) Baseline() float64 {
	return m.baseline
}

// Len returns the number of tones in the pattern.
func (m *Matcher) Len() int {
	return len(m.steps)
}

// Config returns the current configuration
func (m *Matcher) Config() Config {
	return m.config
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
