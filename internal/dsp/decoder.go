// Package dsp turns raw PCM blocks into tone observations.
package dsp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidBitDepth indicates the bit depth must be 8, 16, 24 or 32
	ErrInvalidBitDepth = errors.New("bit depth must be 8, 16, 24 or 32")
	// ErrBlockAlignment indicates the block length is not a multiple of the sample width
	ErrBlockAlignment = errors.New("block length is not a multiple of the sample width")
)

// ByteOrder is the byte order of PCM samples.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// ParseByteOrder parses "little" or "big" (from config: byte_order).
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "little", "le", "":
		return LittleEndian, nil
	case "big", "be":
		return BigEndian, nil
	}
	return 0, fmt.Errorf("unknown byte order %q", s)
}

// NativeByteOrder returns the byte order of the host, which is the order
// capture backends deliver samples in.
func NativeByteOrder() ByteOrder {
	if binary.NativeEndian.Uint16([]byte{0x01, 0x00}) == 0x0001 {
		return LittleEndian
	}
	return BigEndian
}

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big"
	}
	return "little"
}

// SampleDecoder converts raw signed PCM bytes into samples. The samples keep
// the integer scale of the input; magnitude thresholds are calibrated
// against it.
type SampleDecoder struct {
	bytesPerSample int
	order          ByteOrder
	shift          uint
}

// NewSampleDecoder creates a decoder for signed integer samples of the given bit depth.
func NewSampleDecoder(bitDepth int, order ByteOrder) (*SampleDecoder, error) {
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, ErrInvalidBitDepth
	}
	return &SampleDecoder{
		bytesPerSample: bitDepth / 8,
		order:          order,
		shift:          uint(32 - bitDepth),
	}, nil
}

// BytesPerSample returns the sample width in bytes.
func (d *SampleDecoder) BytesPerSample() int {
	return d.bytesPerSample
}

// SampleCount returns how many samples a block of blockBytes holds.
func (d *SampleDecoder) SampleCount(blockBytes int) (int, error) {
	if blockBytes%d.bytesPerSample != 0 {
		return 0, ErrBlockAlignment
	}
	return blockBytes / d.bytesPerSample, nil
}

// Decode decodes block into dst, growing dst if needed, and returns the samples.
func (d *SampleDecoder) Decode(dst []float64, block []byte) ([]float64, error) {
	n, err := d.SampleCount(len(block))
	if err != nil {
		return dst, err
	}
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]

	k := d.bytesPerSample
	for i := range dst {
		b := block[i*k : i*k+k]
		var v uint32
		for j := 0; j < k; j++ {
			if d.order == LittleEndian {
				v |= uint32(b[j]) << (8 * j)
			} else {
				v |= uint32(b[j]) << (8 * (k - 1 - j))
			}
		}
		// sign extend from the most significant byte
		dst[i] = float64(int32(v<<d.shift) >> d.shift)
	}
	return dst, nil
}
