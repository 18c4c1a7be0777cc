// Package metrics exposes detector activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chrizbee/whistledetector/internal/dsp"
	"github.com/chrizbee/whistledetector/internal/pattern"
)

const (
	namespace       = "whistle"
	shutdownTimeout = 5 * time.Second
)

// Metrics holds all collectors. It implements dsp.Observer and must be fed
// from the processing goroutine; scraping is safe from anywhere.
type Metrics struct {
	blocks        prometheus.Counter
	observations  *prometheus.CounterVec // by matcher result
	strong        prometheus.Counter     // observations that passed the peak criteria
	stepsAccepted prometheus.Counter
	detections    prometheus.Counter
	timeouts      prometheus.Counter

	enabled       prometheus.Gauge
	step          prometheus.Gauge
	peakFrequency prometheus.Gauge
	peakMagnitude prometheus.Gauge
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		blocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Audio blocks received, analyzed or not",
		}),
		observations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Analyzed blocks by pattern matcher result",
		}, []string{"result"}),
		strong: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strong_observations_total",
			Help:      "Spectral peaks that passed the magnitude and prominence criteria",
		}),
		stepsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_accepted_total",
			Help:      "Tones accepted by the pattern matcher",
		}),
		detections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_detected_total",
			Help:      "Complete tone patterns detected",
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_timeouts_total",
			Help:      "Partial matches aborted by the debounce deadline",
		}),
		enabled: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detection_enabled",
			Help:      "1 if detection is enabled, 0 otherwise",
		}),
		step: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "matcher_step",
			Help:      "Number of pattern tones matched so far",
		}),
		peakFrequency: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_frequency_hz",
			Help:      "Frequency of the last spectral peak",
		}),
		peakMagnitude: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_magnitude",
			Help:      "Magnitude of the last spectral peak after smoothing",
		}),
	}
}

var _ dsp.Observer = (*Metrics)(nil)

// BlockProcessed counts a block and records the enable state.
func (m *Metrics) BlockProcessed(enabled bool) {
	m.blocks.Inc()
	if enabled {
		m.enabled.Set(1)
	} else {
		m.enabled.Set(0)
	}
}

// Observed records one analyzed block.
func (m *Metrics) Observed(obs dsp.Observation, result pattern.Result, step int) {
	m.observations.WithLabelValues(result.String()).Inc()
	m.peakFrequency.Set(obs.Frequency)
	m.peakMagnitude.Set(obs.Magnitude)
	m.step.Set(float64(step))

	if obs.Strong {
		m.strong.Inc()
	}
	switch result {
	case pattern.Accepted:
		m.stepsAccepted.Inc()
	case pattern.Detected:
		m.stepsAccepted.Inc()
		m.detections.Inc()
	}
}

// TimedOut counts an aborted match.
func (m *Metrics) TimedOut() {
	m.timeouts.Inc()
	m.step.Set(0)
}

// Handler returns the /metrics handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics: shutdown: %v", err)
		}
	}()

	log.Printf("metrics: serving on %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
