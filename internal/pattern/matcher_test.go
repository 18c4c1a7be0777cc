package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPause     = 300 * time.Millisecond
	testMaxDeltaF = 150.0
	testMaxDeltaT = 100 * time.Millisecond
)

var testStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestMatcher(t *testing.T, tones ...float64) *Matcher {
	t.Helper()
	if len(tones) == 0 {
		tones = []float64{1800, 1400}
	}
	m, err := NewMatcher(Config{
		Tones:     tones,
		Pause:     testPause,
		MaxDeltaF: testMaxDeltaF,
		MaxDeltaT: testMaxDeltaT,
	})
	require.NoError(t, err)
	return m
}

func assertIdle(t *testing.T, m *Matcher) {
	t.Helper()
	assert.Equal(t, 0, m.Step(), "step")
	assert.Equal(t, 0.0, m.Baseline(), "baseline")
	assert.False(t, m.Active(), "timer active")
}

func TestNewMatcher_InvalidConfig(t *testing.T) {
	tt := []struct {
		name     string
		cfg      Config
		expected error
	}{
		{"empty pattern", Config{Pause: testPause}, ErrEmptyPattern},
		{"zero pause", Config{Tones: []float64{1800}}, ErrInvalidPause},
		{"negative delta f", Config{Tones: []float64{1800}, Pause: testPause, MaxDeltaF: -1}, ErrInvalidFrequencyTolerance},
		{"negative delta t", Config{Tones: []float64{1800}, Pause: testPause, MaxDeltaT: -time.Millisecond}, ErrInvalidTimingTolerance},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMatcher(tc.cfg)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestNewMatcher_CopiesTones(t *testing.T) {
	tones := []float64{1800, 1400}
	m, err := NewMatcher(Config{Tones: tones, Pause: testPause})
	require.NoError(t, err)

	tones[0] = 0
	assert.Equal(t, []float64{1800, 1400}, m.Config().Tones)
}

func TestSteps(t *testing.T) {
	assert.Equal(t, []float64{1800, -400}, Steps([]float64{1800, 1400}))
	assert.Equal(t, []float64{1000, 500, 500}, Steps([]float64{1000, 1500, 2000}))
	assert.Equal(t, []float64{700}, Steps([]float64{700}))
}

func TestMatcher_ExactPattern(t *testing.T) {
	m := newTestMatcher(t)

	assert.Equal(t, Accepted, m.Observe(1800, testStart))
	assert.Equal(t, 1, m.Step())
	assert.Equal(t, 1800.0, m.Baseline())
	assert.True(t, m.Active())

	assert.Equal(t, Detected, m.Observe(1400, testStart.Add(testPause)))
	assertIdle(t, m)
}

func TestMatcher_SingleTonePattern(t *testing.T) {
	m := newTestMatcher(t, 1000)

	assert.Equal(t, Detected, m.Observe(1100, testStart))
	assertIdle(t, m)
}

func TestMatcher_FirstToneTolerance(t *testing.T) {
	tt := []struct {
		name     string
		freq     float64
		expected Result
	}{
		{"exact", 1800, Accepted},
		{"within delta f", 1900, Accepted},
		{"within widened tolerance", 2020, Accepted},
		{"at widened tolerance", 1800 - testMaxDeltaF*FirstToneToleranceFactor, Accepted},
		{"beyond widened tolerance", 2030, Rejected},
		{"unrelated", 1000, Rejected},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMatcher(t)
			assert.Equal(t, tc.expected, m.Observe(tc.freq, testStart))
		})
	}
}

func TestMatcher_BaselineFollowsFirstTone(t *testing.T) {
	m := newTestMatcher(t, 1800, 1400, 1600)

	// whistled sharp: the rest of the pattern is expected relative to it
	require.Equal(t, Accepted, m.Observe(1900, testStart))
	assert.Equal(t, 1900.0, m.Baseline())

	assert.Equal(t, Rejected, m.Observe(1330, testStart.Add(testPause)), "absolute tone is too far from 1500")
	require.Equal(t, Accepted, m.Observe(1540, testStart.Add(testPause)))
	assert.Equal(t, 1500.0, m.Baseline(), "baseline advances by the expected value")

	assert.Equal(t, Detected, m.Observe(1720, testStart.Add(2*testPause)))
	assertIdle(t, m)
}

func TestMatcher_SecondToneTiming(t *testing.T) {
	tt := []struct {
		name     string
		after    time.Duration
		expected Result
	}{
		{"far too early", 50 * time.Millisecond, Rejected},
		{"earliest", testPause - testMaxDeltaT, Detected},
		{"nominal", testPause, Detected},
		{"late", testPause + testMaxDeltaT - time.Millisecond, Detected},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMatcher(t)
			require.Equal(t, Accepted, m.Observe(1800, testStart))
			assert.Equal(t, tc.expected, m.Observe(1400, testStart.Add(tc.after)))
		})
	}
}

func TestMatcher_TimeoutAborts(t *testing.T) {
	m := newTestMatcher(t)

	require.Equal(t, Accepted, m.Observe(1800, testStart))

	late := testStart.Add(testPause + testMaxDeltaT + time.Millisecond)
	assert.True(t, m.Expire(late))
	assertIdle(t, m)

	// the late second tone is a fresh first-tone candidate and does not match
	assert.Equal(t, Rejected, m.Observe(1400, late))
	assertIdle(t, m)
}

func TestMatcher_TimeoutAppliedOnObserve(t *testing.T) {
	m := newTestMatcher(t)

	require.Equal(t, Accepted, m.Observe(1800, testStart))
	assert.Equal(t, Rejected, m.Observe(1400, testStart.Add(time.Second)))
	assertIdle(t, m)
}

func TestMatcher_ExpireWhenIdle(t *testing.T) {
	m := newTestMatcher(t)
	assert.False(t, m.Expire(testStart))
	assert.Equal(t, time.Duration(0), m.Remaining(testStart))
}

func TestMatcher_RejectionKeepsState(t *testing.T) {
	m := newTestMatcher(t)

	require.Equal(t, Accepted, m.Observe(1800, testStart))
	remaining := m.Remaining(testStart.Add(100 * time.Millisecond))

	assert.Equal(t, Rejected, m.Observe(1000, testStart.Add(100*time.Millisecond)))
	assert.Equal(t, 1, m.Step())
	assert.Equal(t, 1800.0, m.Baseline())
	assert.Equal(t, remaining, m.Remaining(testStart.Add(100*time.Millisecond)), "timer untouched")

	assert.Equal(t, Detected, m.Observe(1400, testStart.Add(testPause)))
	assertIdle(t, m)
}

func TestMatcher_RepeatedPatterns(t *testing.T) {
	m := newTestMatcher(t)

	detections := 0
	at := testStart
	for i := 0; i < 2; i++ {
		if m.Observe(1800, at) == Detected {
			detections++
		}
		if m.Observe(1400, at.Add(testPause)) == Detected {
			detections++
		}
		at = at.Add(5 * time.Second)
		m.Expire(at)
	}

	assert.Equal(t, 2, detections)
	assertIdle(t, m)
}

func TestMatcher_TimerRestartsOnEachStep(t *testing.T) {
	m := newTestMatcher(t, 1000, 1200, 1400)

	require.Equal(t, Accepted, m.Observe(1000, testStart))
	second := testStart.Add(testPause)
	require.Equal(t, Accepted, m.Observe(1200, second))
	assert.Equal(t, testPause+testMaxDeltaT, m.Remaining(second))

	assert.Equal(t, Detected, m.Observe(1400, second.Add(testPause+50*time.Millisecond)))
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "ignored", Ignored.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "detected", Detected.String())
	assert.Equal(t, "unknown", Result(42).String())
}
