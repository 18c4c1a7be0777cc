// Package audio delivers raw PCM from a capture device or a WAV file.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrNotOpen        = errors.New("audio device not open")
	ErrAlreadyOpen    = errors.New("audio device already open")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
	ErrClosed         = errors.New("audio capture closed")
)

// dataChannelSize is the number of raw chunks buffered between the audio
// thread and the processing goroutine.
const dataChannelSize = 64

// Config holds audio capture configuration
type Config struct {
	DeviceIndex  int    // -1 for default device
	SampleRate   uint32 // e.g., 44100
	BitDepth     int    // requested signed PCM bit depth, negotiated on Open
	PeriodFrames uint32 // frames per callback, one detector block
}

// DefaultConfig returns sensible defaults for whistle detection
func DefaultConfig() Config {
	return Config{
		DeviceIndex:  -1,
		SampleRate:   44100,
		BitDepth:     16,
		PeriodFrames: 2048,
	}
}

// Capture handles real-time audio sampling from the capture device. Captured
// bytes are signed PCM in host byte order, mono.
type Capture struct {
	config Config

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	// Data carries raw captured chunks; chunk sizes follow the device, not
	// the block size.
	Data chan []byte
}

// New creates a new audio capture instance
func New(cfg Config) *Capture {
	return &Capture{
		config: cfg,
		Data:   make(chan []byte, dataChannelSize),
	}
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx

	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.listDevices()
}

func (c *Capture) listDevices() ([]malgo.DeviceInfo, error) {
	if c.ctx == nil {
		return nil, ErrNotInitialized
	}

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	return infos, nil
}

// Open initializes the capture device with the nearest supported format and
// returns the format the device actually delivers. The format does not
// change for the lifetime of the device.
func (c *Capture) Open() (Format, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return Format{}, ErrNotInitialized
	}
	if c.device != nil {
		return Format{}, ErrAlreadyOpen
	}

	malgoFormat, bitDepth := NegotiateBitDepth(c.config.BitDepth)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.PeriodFrames
	deviceConfig.Capture.Format = malgoFormat
	deviceConfig.Capture.Channels = 1

	// Select specific device if requested
	if c.config.DeviceIndex >= 0 {
		devices, err := c.listDevices()
		if err != nil {
			return Format{}, err
		}
		if c.config.DeviceIndex >= len(devices) {
			return Format{}, fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: c.onRecvFrames,
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return Format{}, fmt.Errorf("init device: %w", err)
	}

	format := Format{
		SampleRate:   device.SampleRate(),
		BitDepth:     malgo.SampleSizeInBytes(device.CaptureFormat()) * 8,
		Channels:     device.CaptureChannels(),
		PeriodFrames: c.config.PeriodFrames,
	}
	if format.BitDepth != bitDepth || format.Channels != 1 {
		device.Uninit()
		return Format{}, fmt.Errorf("%w: device delivers %d bit, %d channels", ErrUnsupportedFormat, format.BitDepth, format.Channels)
	}

	c.device = device
	return format, nil
}

// onRecvFrames receives audio data on the audio thread
func (c *Capture) onRecvFrames(_, inputSamples []byte, _ uint32) {
	if len(inputSamples) == 0 {
		return
	}

	// malgo reuses the input buffer
	c.safeSend(copyBytes(inputSamples))
}

// safeSend forwards data without blocking the audio thread. Data is dropped
// when the consumer is too slow or the capture has been closed.
func (c *Capture) safeSend(data []byte) (sent bool) {
	if c.closed.Load() {
		return false
	}
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.Data <- data:
		return true
	default:
		return false
	}
}

// Start begins audio capture, opening the device first if needed.
// Capture stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.running.Load() {
		return ErrAlreadyRunning
	}

	c.mu.Lock()
	needsOpen := c.device == nil
	initialized := c.ctx != nil
	c.mu.Unlock()

	if !initialized {
		return ErrNotInitialized
	}
	if needsOpen {
		if _, err := c.Open(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	err := c.device.Start()
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("start device: %w", err)
	}
	c.running.Store(true)

	// Wait for context cancellation
	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		_ = c.device.Stop()
	}
	return nil
}

// Close releases all audio resources and closes the Data channel.
// It is safe to call Close more than once.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.running.Store(false)

		c.mu.Lock()
		if c.device != nil {
			_ = c.device.Stop()
			c.device.Uninit()
			c.device = nil
		}
		if c.ctx != nil {
			if uninitErr := c.ctx.Uninit(); uninitErr != nil {
				err = fmt.Errorf("uninit context: %w", uninitErr)
			}
			c.ctx.Free()
			c.ctx = nil
		}
		c.mu.Unlock()

		close(c.Data)
	})
	return err
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	return c.running.Load()
}

// IsClosed returns true once Close has been called
func (c *Capture) IsClosed() bool {
	return c.closed.Load()
}

func copyBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	result := make([]byte, len(data))
	copy(result, data)
	return result
}
