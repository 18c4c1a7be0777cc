package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrizbee/whistledetector/internal/dsp"
	"github.com/chrizbee/whistledetector/internal/pattern"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func TestNew_RegistersCollectors(t *testing.T) {
	_, reg := newTestMetrics(t)

	// observations_total has no series until the first observation
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 9, count)
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) })
}

func TestBlockProcessed(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.BlockProcessed(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enabled))

	m.BlockProcessed(false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.blocks))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.enabled))
}

func TestObserved(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.Observed(dsp.Observation{Frequency: 1000, Magnitude: 10}, pattern.Ignored, 0)
	m.Observed(dsp.Observation{Frequency: 1800, Magnitude: 5e5, Strong: true}, pattern.Accepted, 1)
	m.Observed(dsp.Observation{Frequency: 1100, Magnitude: 4e5, Strong: true}, pattern.Rejected, 1)
	m.Observed(dsp.Observation{Frequency: 1400, Magnitude: 6e5, Strong: true}, pattern.Detected, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.observations.WithLabelValues("ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.observations.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.observations.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.observations.WithLabelValues("detected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.strong))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stepsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detections))

	assert.Equal(t, 1400.0, testutil.ToFloat64(m.peakFrequency))
	assert.Equal(t, 6e5, testutil.ToFloat64(m.peakMagnitude))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.step))
}

func TestTimedOut(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.Observed(dsp.Observation{Frequency: 1800, Strong: true}, pattern.Accepted, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.step))

	m.TimedOut()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timeouts))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.step))
}

func TestMetrics_AsDetectorObserver(t *testing.T) {
	m, _ := newTestMetrics(t)
	other := &countingObserver{}

	var observer dsp.Observer = dsp.Observers{m, other}
	observer.BlockProcessed(true)
	observer.TimedOut()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.blocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timeouts))
	assert.Equal(t, 1, other.blocks)
}

type countingObserver struct {
	blocks int
}

func (o *countingObserver) BlockProcessed(bool)                           { o.blocks++ }
func (o *countingObserver) Observed(dsp.Observation, pattern.Result, int) {}
func (o *countingObserver) TimedOut()                                     {}

func TestHandler_ExposesMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.BlockProcessed(true)
	m.Observed(dsp.Observation{Frequency: 1800, Strong: true}, pattern.Accepted, 1)

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "whistle_blocks_total 1")
	assert.Contains(t, string(body), `whistle_observations_total{result="accepted"} 1`)
	assert.Contains(t, string(body), "whistle_detection_enabled 1")
}

func TestHandler_Lint(t *testing.T) {
	_, reg := newTestMetrics(t)

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestServe_StopsOnCancel(t *testing.T) {
	_, reg := newTestMetrics(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", reg)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestServe_InvalidAddress(t *testing.T) {
	_, reg := newTestMetrics(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := Serve(ctx, "256.0.0.1:bad", reg)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "metrics server"))
}
