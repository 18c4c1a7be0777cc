package audio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRaw(t *testing.T) {
	format := Format{SampleRate: 8000, BitDepth: 16, Channels: 1, PeriodFrames: 2}
	payload := []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x05}

	src, err := OpenRaw(bytes.NewReader(payload), format)
	require.NoError(t, err)

	assert.Equal(t, format, src.Format())
	assert.Equal(t, 8, src.Len(), "trailing partial sample is dropped")
	blocks := src.Blocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x02}, blocks[0])
}

func TestOpenRaw_UnsupportedFormat(t *testing.T) {
	_, err := OpenRaw(bytes.NewReader(nil), Format{SampleRate: 8000, BitDepth: 12, Channels: 1, PeriodFrames: 2})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = OpenRaw(bytes.NewReader(nil), Format{SampleRate: 8000, BitDepth: 16, Channels: 2, PeriodFrames: 2})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestOpenRaw_ReadError(t *testing.T) {
	_, err := OpenRaw(failingReader{}, Format{SampleRate: 8000, BitDepth: 16, Channels: 1, PeriodFrames: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}
