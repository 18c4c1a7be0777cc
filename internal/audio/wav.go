package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV indicates the input is not a readable WAV file
var ErrInvalidWAV = errors.New("invalid WAV file")

// PCMSource holds a mono signed PCM payload, ready to be cut into blocks.
// WAV payloads are little endian and reduced to their first channel.
type PCMSource struct {
	format Format
	data   []byte
}

// OpenWAV reads the whole WAV file. periodFrames sets the block size of the
// returned format.
func OpenWAV(r io.ReadSeeker, periodFrames uint32) (*PCMSource, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read PCM: %w", err)
	}

	bitDepth := int(decoder.BitDepth)
	channels := int(decoder.NumChans)
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d bit", ErrUnsupportedFormat, bitDepth)
	}
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}

	width := bitDepth / 8
	frames := len(buf.Data) / channels
	data := make([]byte, frames*width)
	for i := 0; i < frames; i++ {
		sample := buf.Data[i*channels]
		if bitDepth == 8 {
			// 8 bit WAV is unsigned
			sample -= 128
		}
		putSample(data[i*width:], uint32(int32(sample)), width)
	}

	return &PCMSource{
		format: Format{
			SampleRate:   decoder.SampleRate,
			BitDepth:     bitDepth,
			Channels:     1,
			PeriodFrames: periodFrames,
		},
		data: data,
	}, nil
}

func putSample(b []byte, v uint32, width int) {
	switch width {
	case 4:
		binary.LittleEndian.PutUint32(b, v)
	default:
		for j := 0; j < width; j++ {
			b[j] = byte(v >> (8 * j))
		}
	}
}

// Format returns the stream format.
func (s *PCMSource) Format() Format {
	return s.format
}

// Len returns the payload length in bytes.
func (s *PCMSource) Len() int {
	return len(s.data)
}

// Blocks returns the payload cut into complete blocks; a trailing partial
// block is dropped.
func (s *PCMSource) Blocks() [][]byte {
	size := s.format.BlockBytes()
	if size <= 0 {
		return nil
	}
	blocks := make([][]byte, 0, len(s.data)/size)
	for offset := 0; offset+size <= len(s.data); offset += size {
		blocks = append(blocks, s.data[offset:offset+size])
	}
	return blocks
}

// WriteTo writes the whole payload to w in one call.
func (s *PCMSource) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.data)
	return int64(n), err
}
