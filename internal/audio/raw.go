package audio

import (
	"fmt"
	"io"
)

// OpenRaw reads headerless mono PCM. The format describes the payload; its
// byte order is whatever the caller decodes it with.
func OpenRaw(r io.Reader, format Format) (*PCMSource, error) {
	switch format.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d bit", ErrUnsupportedFormat, format.BitDepth)
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, format.Channels)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read PCM: %w", err)
	}

	// drop a trailing partial sample
	width := format.BytesPerSample()
	data = data[:len(data)-len(data)%width]

	return &PCMSource{format: format, data: data}, nil
}
