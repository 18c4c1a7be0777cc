package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrizbee/whistledetector/internal/audio"
	"github.com/chrizbee/whistledetector/internal/config"
	"github.com/chrizbee/whistledetector/internal/dsp"
)

var errFormatMismatch = errors.New("recordings must share one format")

var replayCmd = &cobra.Command{
	Use:   "replay FILE...",
	Short: "Run recordings through the detector",
	Long: `Runs recordings through the detector as if they were captured live and
prints the offset of every detected pattern. Time follows the sample count,
so results do not depend on how fast the file is processed. Files are
replayed one after another and a match never spans two files. Nothing is
published over MQTT.

Files are WAV unless --raw is given, in which case they are headerless mono
PCM in the configured sample_rate, bit_depth and byte_order.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().Bool("raw", false, "read headerless PCM instead of WAV")
	rootCmd.AddCommand(replayCmd)
}

// sampleClock returns the capture time of consecutive blocks, derived from
// the number of frames seen so far.
type sampleClock struct {
	start        time.Time
	sampleRate   int64
	periodFrames int64
	blocks       int64
	current      time.Time
}

func (c *sampleClock) Now() time.Time {
	frames := c.blocks * c.periodFrames
	c.current = c.start.Add(time.Duration(frames * int64(time.Second) / c.sampleRate))
	c.blocks++
	return c.current
}

// Offset returns the time of the last block relative to the start.
func (c *sampleClock) Offset() time.Duration {
	return c.current.Sub(c.start)
}

// Rewind restarts the clock at the start.
func (c *sampleClock) Rewind() {
	c.blocks = 0
	c.current = c.start
}

// openRecording loads one file. WAV payloads are always little endian, raw
// payloads follow byte_order.
func openRecording(path string, raw bool, s *config.Settings) (*audio.PCMSource, dsp.ByteOrder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	if !raw {
		src, err := audio.OpenWAV(f, uint32(s.PeriodSize))
		return src, dsp.LittleEndian, err
	}

	order, err := dsp.ParseByteOrder(s.ByteOrder)
	if err != nil {
		return nil, 0, err
	}
	src, err := audio.OpenRaw(f, audio.Format{
		SampleRate:   uint32(s.SampleRate),
		BitDepth:     s.BitDepth,
		Channels:     1,
		PeriodFrames: uint32(s.PeriodSize),
	})
	return src, order, err
}

func runReplay(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}
	raw, err := cmd.Flags().GetBool("raw")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var (
		detector   *dsp.Detector
		clock      *sampleClock
		format     audio.Format
		order      dsp.ByteOrder
		current    string
		detections int
	)

	for _, path := range args {
		src, srcOrder, err := openRecording(path, raw, settings)
		if err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s: %s, %d blocks\n", path, src.Format(), len(src.Blocks()))

		if detector == nil {
			format, order = src.Format(), srcOrder
			clock = &sampleClock{
				start:        time.Unix(0, 0),
				sampleRate:   int64(format.SampleRate),
				periodFrames: int64(format.PeriodFrames),
			}
			detector, err = newDetector(settings, format, order, clock.Now)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			if settings.Debug {
				detector.SetObserver(debugObserver{logger: log.New(os.Stderr, "debug: ", 0)})
			}
			detector.SetCallback(func() {
				detections++
				fmt.Fprintf(out, "%s: pattern detected at %s\n", current, clock.Offset().Round(time.Millisecond))
			})
		} else {
			if src.Format() != format {
				return fmt.Errorf("replay %s: %w: got %s, want %s", path, errFormatMismatch, src.Format(), format)
			}
			detector.Reset()
			clock.Rewind()
		}

		current = path
		if _, err := src.WriteTo(detector); err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
	}

	fmt.Fprintf(out, "%d pattern(s) detected\n", detections)
	return nil
}
