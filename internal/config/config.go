// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/chrizbee/whistledetector/internal/dsp"
)

const (
	AppName       = "whistledetector"
	ConfigType    = "yaml"
	DefaultConfig = `# Whistle Detector Configuration

# Audio device settings
device_index: -1        # -1 for default device (use 'whistledetector devices' to list)
sample_rate: 44100      # Audio sample rate in Hz
bit_depth: 16           # Signed PCM bit depth (8, 16, 24, 32), nearest supported is used
byte_order: "little"    # Sample byte order (little, big)
period_size: 2048       # Frames per analysis block, also the FFT length

# Spectrum
cutoff_mag: 300         # Peak magnitude must exceed this (raw sample scale)
cutoff_lower: 800       # Lower band limit in Hz
cutoff_upper: 2000      # Upper band limit in Hz
max_to_mean: 0          # Peak must exceed mean band magnitude by this ratio, 0 disables
smoothing: 1            # Moving average over this many peak magnitudes, 1 disables

# Pattern
pattern: [1800, 1400]   # Tone frequencies in Hz, matched relative to the first tone
pause_ms: 300           # Nominal pause between tones
delta_f: 150            # Frequency tolerance in Hz (first tone gets 1.5x)
delta_t_ms: 100         # Timing tolerance around the nominal pause

# MQTT
mqtt:
  enabled: true
  broker: "tcp://192.168.10.100:1883"
  client_id: "WhistleDetector"
  username: ""
  password: ""
  sub_topic: "cmnd/whistledetector/POWER"   # ON/OFF enables or disables detection
  pub_topic: "stat/whistledetector/POWER"   # current state is published here
  toggle_topics:                            # TOGGLE is published here on detection
    - "cmnd/ledchr1/POWER"
    - "cmnd/ledchr2/POWER"

# Output
metrics_address: ""     # Prometheus listen address (e.g. ":9090"), empty disables
debug: false            # Enable debug output
`
)

// MQTTSettings holds the message bus configuration
type MQTTSettings struct {
	Enabled      bool     `mapstructure:"enabled"`
	Broker       string   `mapstructure:"broker"`
	ClientID     string   `mapstructure:"client_id"`
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	SubTopic     string   `mapstructure:"sub_topic"`
	PubTopic     string   `mapstructure:"pub_topic"`
	ToggleTopics []string `mapstructure:"toggle_topics"`
}

// Settings holds all application configuration
type Settings struct {
	// Audio device settings
	DeviceIndex int     `mapstructure:"device_index"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	BitDepth    int     `mapstructure:"bit_depth"`
	ByteOrder   string  `mapstructure:"byte_order"`
	PeriodSize  int     `mapstructure:"period_size"`

	// Spectrum
	CutoffMag   float64 `mapstructure:"cutoff_mag"`
	CutoffLower float64 `mapstructure:"cutoff_lower"`
	CutoffUpper float64 `mapstructure:"cutoff_upper"`
	MaxToMean   float64 `mapstructure:"max_to_mean"`
	Smoothing   int     `mapstructure:"smoothing"`

	// Pattern
	Pattern  []float64 `mapstructure:"pattern"`
	PauseMs  int       `mapstructure:"pause_ms"`
	DeltaF   float64   `mapstructure:"delta_f"`
	DeltaTMs int       `mapstructure:"delta_t_ms"`

	MQTT MQTTSettings `mapstructure:"mqtt"`

	// Output
	MetricsAddress string `mapstructure:"metrics_address"`
	Debug          bool   `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/whistledetector/
func Init() error {
	setDefaults()

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config found - create default in ~/.config/whistledetector/
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 44100)
	viper.SetDefault("bit_depth", 16)
	viper.SetDefault("byte_order", "little")
	viper.SetDefault("period_size", 2048)
	viper.SetDefault("cutoff_mag", 300)
	viper.SetDefault("cutoff_lower", 800)
	viper.SetDefault("cutoff_upper", 2000)
	viper.SetDefault("max_to_mean", 0)
	viper.SetDefault("smoothing", 1)
	viper.SetDefault("pattern", []float64{1800, 1400})
	viper.SetDefault("pause_ms", 300)
	viper.SetDefault("delta_f", 150)
	viper.SetDefault("delta_t_ms", 100)
	viper.SetDefault("mqtt.enabled", true)
	viper.SetDefault("mqtt.broker", "tcp://192.168.10.100:1883")
	viper.SetDefault("mqtt.client_id", "WhistleDetector")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.sub_topic", "cmnd/whistledetector/POWER")
	viper.SetDefault("mqtt.pub_topic", "stat/whistledetector/POWER")
	viper.SetDefault("mqtt.toggle_topics", []string{"cmnd/ledchr1/POWER", "cmnd/ledchr2/POWER"})
	viper.SetDefault("metrics_address", "")
	viper.SetDefault("debug", false)
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Pause returns the nominal pause between tones.
func (s *Settings) Pause() time.Duration {
	return time.Duration(s.PauseMs) * time.Millisecond
}

// DeltaT returns the timing tolerance.
func (s *Settings) DeltaT() time.Duration {
	return time.Duration(s.DeltaTMs) * time.Millisecond
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio device settings
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %v", s.SampleRate))
	}
	// capture devices take an integer rate
	if s.SampleRate != math.Trunc(s.SampleRate) {
		errs = append(errs, fmt.Errorf("sample_rate must be a whole number of Hz, got %v", s.SampleRate))
	}
	switch s.BitDepth {
	case 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("bit_depth must be one of 8, 16, 24, 32, got %d", s.BitDepth))
	}
	if _, err := dsp.ParseByteOrder(s.ByteOrder); err != nil {
		errs = append(errs, fmt.Errorf("byte_order must be little or big, got %q", s.ByteOrder))
	}
	if s.PeriodSize < 2 || s.PeriodSize > 65536 {
		errs = append(errs, fmt.Errorf("period_size must be between 2 and 65536 frames, got %d", s.PeriodSize))
	}

	// Spectrum
	if s.CutoffMag < 0 {
		errs = append(errs, fmt.Errorf("cutoff_mag must not be negative, got %v", s.CutoffMag))
	}
	if s.CutoffLower < 0 || s.CutoffLower >= s.CutoffUpper {
		errs = append(errs, fmt.Errorf("cutoff_lower (%v Hz) must be non-negative and below cutoff_upper (%v Hz)", s.CutoffLower, s.CutoffUpper))
	}
	// Nyquist check: band must fit below half the sample rate
	if s.CutoffUpper > s.SampleRate/2 {
		errs = append(errs, fmt.Errorf("cutoff_upper (%v Hz) must not exceed Nyquist frequency (%v Hz)", s.CutoffUpper, s.SampleRate/2))
	}
	if s.MaxToMean < 0 {
		errs = append(errs, fmt.Errorf("max_to_mean must not be negative, got %v", s.MaxToMean))
	}
	if s.Smoothing < 1 {
		errs = append(errs, fmt.Errorf("smoothing must be at least 1, got %d", s.Smoothing))
	}

	// Pattern
	if len(s.Pattern) == 0 {
		errs = append(errs, errors.New("pattern must contain at least one tone"))
	}
	for i, tone := range s.Pattern {
		if tone <= 0 {
			errs = append(errs, fmt.Errorf("pattern[%d] must be a positive frequency, got %v", i, tone))
		}
	}
	if s.PauseMs <= 0 {
		errs = append(errs, fmt.Errorf("pause_ms must be positive, got %d", s.PauseMs))
	}
	if s.DeltaF < 0 {
		errs = append(errs, fmt.Errorf("delta_f must not be negative, got %v", s.DeltaF))
	}
	if s.DeltaTMs < 0 {
		errs = append(errs, fmt.Errorf("delta_t_ms must not be negative, got %d", s.DeltaTMs))
	}

	// MQTT
	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
		}
		if s.MQTT.SubTopic == "" {
			errs = append(errs, errors.New("mqtt.sub_topic is required when mqtt is enabled"))
		}
		if s.MQTT.PubTopic == "" {
			errs = append(errs, errors.New("mqtt.pub_topic is required when mqtt is enabled"))
		}
		for i, topic := range s.MQTT.ToggleTopics {
			if topic == "" {
				errs = append(errs, fmt.Errorf("mqtt.toggle_topics[%d] must not be empty", i))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
