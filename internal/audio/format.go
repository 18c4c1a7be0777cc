package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/gen2brain/malgo"
)

// ErrUnsupportedFormat indicates the source delivers a format the detector cannot use
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// supportedBitDepths are the signed PCM capture formats malgo offers.
// 8 bit capture is unsigned in miniaudio and therefore not listed.
var supportedBitDepths = []struct {
	bitDepth int
	format   malgo.FormatType
}{
	{16, malgo.FormatS16},
	{24, malgo.FormatS24},
	{32, malgo.FormatS32},
}

// NegotiateBitDepth returns the supported capture format nearest to the
// requested bit depth. On ties the smaller depth wins.
func NegotiateBitDepth(requested int) (malgo.FormatType, int) {
	best := supportedBitDepths[0]
	for _, candidate := range supportedBitDepths[1:] {
		if abs(candidate.bitDepth-requested) < abs(best.bitDepth-requested) {
			best = candidate
		}
	}
	return best.format, best.bitDepth
}

// Format describes the PCM stream of a session. It is queried once before
// processing starts.
type Format struct {
	SampleRate   uint32
	BitDepth     int
	Channels     uint32
	PeriodFrames uint32
}

// BytesPerSample returns the width of one sample.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// BlockBytes returns the size of one block (one period) in bytes.
func (f Format) BlockBytes() int {
	return int(f.PeriodFrames) * int(f.Channels) * f.BytesPerSample()
}

// BlockDuration returns the time covered by one block.
func (f Format) BlockDuration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(f.PeriodFrames) / float64(f.SampleRate) * float64(time.Second))
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d bit, %d ch, %d frames/period", f.SampleRate, f.BitDepth, f.Channels, f.PeriodFrames)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
