package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/chrizbee/whistledetector/internal/audio"
	"github.com/chrizbee/whistledetector/internal/bus"
	"github.com/chrizbee/whistledetector/internal/config"
	"github.com/chrizbee/whistledetector/internal/dsp"
	"github.com/chrizbee/whistledetector/internal/pattern"
)

// newDetector builds the matcher and detector for one session. The format
// is the one the source actually delivers, which may differ from the
// configured bit depth and sample rate.
func newDetector(s *config.Settings, format audio.Format, order dsp.ByteOrder, clock func() time.Time) (*dsp.Detector, error) {
	matcher, err := pattern.NewMatcher(pattern.Config{
		Tones:     s.Pattern,
		Pause:     s.Pause(),
		MaxDeltaF: s.DeltaF,
		MaxDeltaT: s.DeltaT(),
	})
	if err != nil {
		return nil, fmt.Errorf("create matcher: %w", err)
	}

	detector, err := dsp.NewDetector(dsp.DetectorConfig{
		SampleRate:  float64(format.SampleRate),
		BitDepth:    format.BitDepth,
		ByteOrder:   order,
		BlockBytes:  format.BlockBytes(),
		CutoffLower: s.CutoffLower,
		CutoffUpper: s.CutoffUpper,
		Peak: dsp.PeakConfig{
			CutoffMagnitude: s.CutoffMag,
			MaxToMean:       s.MaxToMean,
			Smoothing:       s.Smoothing,
		},
		Clock: clock,
	}, matcher)
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}

	return detector, nil
}

// captureByteOrder returns the order live capture is decoded in. Capture
// delivers host order; byte_order must agree with it and otherwise only
// applies to raw replay.
func captureByteOrder(s *config.Settings) (dsp.ByteOrder, error) {
	configured, err := dsp.ParseByteOrder(s.ByteOrder)
	if err != nil {
		return 0, err
	}
	native := dsp.NativeByteOrder()
	if configured != native {
		return 0, fmt.Errorf("byte_order %s does not match the capture byte order %s", configured, native)
	}
	return native, nil
}

func busConfig(s *config.Settings) bus.Config {
	return bus.Config{
		Broker:       s.MQTT.Broker,
		ClientID:     s.MQTT.ClientID,
		Username:     s.MQTT.Username,
		Password:     s.MQTT.Password,
		SubTopic:     s.MQTT.SubTopic,
		PubTopic:     s.MQTT.PubTopic,
		ToggleTopics: s.MQTT.ToggleTopics,
	}
}

// debugObserver logs every strong observation and every matcher transition.
type debugObserver struct {
	logger *log.Logger
}

func (o debugObserver) BlockProcessed(bool) {}

func (o debugObserver) Observed(obs dsp.Observation, result pattern.Result, step int) {
	if !obs.Strong {
		return
	}
	o.logger.Printf("peak %.1f Hz mag %.0f (x%.1f mean) -> %s, step %d",
		obs.Frequency, obs.Magnitude, obs.Prominence(), result, step)
}

func (o debugObserver) TimedOut() {
	o.logger.Println("match timed out")
}
