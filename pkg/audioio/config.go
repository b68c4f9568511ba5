// Package audioio provides microphone capture, speaker playback and the
// sample conversions that sit between a capture device and the wire.
//
// Capture supports two interchangeable backends:
//   - Callback (miniaudio via malgo) - preferred, low latency, frames are
//     produced on the audio thread and handed off through a channel
//   - Blocking (PortAudio) - fallback, a goroutine performs blocking reads
//   - Mock - CI/Testing without hardware
//
// The backend is chosen once when the session is constructed.
package audioio

import (
	"fmt"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects the callback backend and falls back to the
	// blocking backend when the callback backend cannot be initialised.
	BackendAuto Backend = "auto"
	// BackendCallback uses miniaudio (malgo) with a device data callback.
	BackendCallback Backend = "callback"
	// BackendBlocking uses PortAudio blocking reads.
	BackendBlocking Backend = "blocking"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// ParseBackend converts a configuration string into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendCallback, BackendBlocking, BackendMock:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("unknown audio backend %q", s)
	}
}

const (
	// TargetSampleRate is the rate every outbound frame is encoded at.
	TargetSampleRate = 24000
	// Channels is the channel count negotiated with the backend.
	Channels = 1
	// DefaultBufferSize is the number of samples per captured frame.
	DefaultBufferSize = 4096
)

// Processing lists the voice processing features requested from the device.
type Processing struct {
	EchoCancellation bool `yaml:"echo_cancellation" json:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression" json:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control" json:"auto_gain_control"`
}

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the preferred device sample rate in Hz. The device may
	// run at a different rate; the actual rate is reported by the session.
	// Default: 24000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferSize is the number of samples in every frame delivered to
	// OnFrame, regardless of backend.
	// Default: 4096
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// QueueSize is the number of frames buffered between the audio thread
	// and the frame dispatcher before frames are dropped.
	// Default: 8
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// Device selects an input device by name (case-insensitive), empty for
	// the system default. An unknown name fails with ErrDeviceUnavailable.
	Device string `yaml:"device" json:"device"`

	// Processing is requested where the backend exposes it.
	Processing Processing `yaml:"processing" json:"processing"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendAuto,
		SampleRate: TargetSampleRate,
		Channels:   Channels,
		BufferSize: DefaultBufferSize,
		QueueSize:  8,
		Processing: Processing{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1, got %d", c.Channels)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	return nil
}
