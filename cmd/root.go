// cmd/root.go
package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chrizbee/whistledetector/internal/audio"
	"github.com/chrizbee/whistledetector/internal/bus"
	"github.com/chrizbee/whistledetector/internal/config"
	"github.com/chrizbee/whistledetector/internal/dsp"
	"github.com/chrizbee/whistledetector/internal/metrics"
	"github.com/chrizbee/whistledetector/internal/recovery"
)

var rootCmd = &cobra.Command{
	Use:   "whistledetector",
	Short: "Whistle pattern detector for home automation",
	Long: `Listens to an audio input, detects a configured sequence of whistled tones
and publishes a TOGGLE command over MQTT on every match. Detection can be
switched on and off with ON/OFF messages on the command topic.`,
	SilenceUsage: true,
	RunE:         runDetector,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagBindings maps persistent flags to config keys.
var flagBindings = map[string]string{
	"device":      "device_index",
	"cutoff-mag":  "cutoff_mag",
	"max-to-mean": "max_to_mean",
	"metrics":     "metrics_address",
	"mqtt":        "mqtt.enabled",
	"debug":       "debug",
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().Float64P("cutoff-mag", "c", 300, "peak magnitude cutoff")
	rootCmd.PersistentFlags().Float64P("max-to-mean", "m", 0, "required peak to mean ratio (0 disables)")
	rootCmd.PersistentFlags().String("metrics", "", "prometheus listen address, e.g. :9090")
	rootCmd.PersistentFlags().Bool("mqtt", true, "connect to the MQTT broker")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")
}

func initConfig() {
	// Bound here rather than in init so that a viper reset keeps the flags
	for flag, key := range flagBindings {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

func runDetector(cmd *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}
	order, err := captureByteOrder(settings)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture := audio.New(audio.Config{
		DeviceIndex:  settings.DeviceIndex,
		SampleRate:   uint32(settings.SampleRate),
		BitDepth:     settings.BitDepth,
		PeriodFrames: uint32(settings.PeriodSize),
	})
	defer capture.Close()

	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio init: %w", err)
	}
	format, err := capture.Open()
	if err != nil {
		return fmt.Errorf("audio open: %w", err)
	}
	log.Printf("audio: %s", format)
	if format.BitDepth != settings.BitDepth {
		log.Printf("audio: %d bit not supported, using %d bit", settings.BitDepth, format.BitDepth)
	}

	detector, err := newDetector(settings, format, order, nil)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	observers := dsp.Observers{metrics.New(registry)}
	if settings.Debug {
		observers = append(observers, debugObserver{logger: log.New(os.Stderr, "debug: ", log.LstdFlags|log.Lmicroseconds)})
	}
	detector.SetObserver(observers)

	var bridge *bus.Bridge
	if settings.MQTT.Enabled {
		bridge, err = bus.Connect(busConfig(settings), detector)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer bridge.Close()
	}

	detector.SetCallback(func() {
		log.Println("Pattern detected")
		if bridge != nil {
			bridge.PatternDetected()
		}
	})

	if settings.MetricsAddress != "" {
		go func() {
			if err := metrics.Serve(ctx, settings.MetricsAddress, registry); err != nil {
				log.Printf("metrics: %v", err)
			}
		}()
	}

	if err := capture.Start(ctx); err != nil {
		return fmt.Errorf("audio start: %w", err)
	}
	log.Printf("Listening for %v Hz, press Ctrl+C to stop", settings.Pattern)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer recovery.HandlePanicFunc(func() {
			_ = capture.Close()
		})
		for chunk := range capture.Data {
			_, _ = detector.Write(chunk)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	// closing the capture ends the processing loop
	if err := capture.Close(); err != nil {
		log.Printf("audio: %v", err)
	}
	<-done

	return nil
}
