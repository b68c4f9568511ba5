package voice

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/teslashibe/voicenote/pkg/audioio"
)

// DefaultURL is the voice service used when no URL is configured.
const DefaultURL = "http://localhost:3001"

// Namespace is the Socket.IO namespace of the voice service.
const Namespace = "/voice"

// TranscriptEvent is a transcript line reported by the service.
type TranscriptEvent struct {
	// Role is the speaker role ("user" or "assistant").
	Role string

	// Text is the transcribed text.
	Text string

	// Elapsed is the time since the session started.
	Elapsed time.Duration
}

// LocalHandlers are the caller's callbacks for reserved events.
// Both are optional and run on the transport's reader goroutine.
type LocalHandlers struct {
	// Writing receives every transcript line.
	Writing func(TranscriptEvent)

	// Error receives backend errors that are not ignored.
	Error func(error)
}

// Config is the per-session voice configuration: what the assistant is
// told and which tool events it may send back.
type Config struct {
	// Instructions is the system prompt sent with the start message.
	Instructions string

	// Tools are the custom events the service may emit.
	Tools []ToolRegistration

	// Handlers are the local callbacks for reserved events.
	Handlers LocalHandlers

	// Metadata is sent verbatim in the start message.
	Metadata map[string]any
}

// Validate checks the tool registrations.
func (c Config) Validate() error {
	_, err := NewToolRouter(c.Tools, nil)
	return err
}

// TokenSource supplies the anonymous token sent on connect.
type TokenSource interface {
	GetOrCreateToken() (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// GetOrCreateToken returns the token.
func (t StaticToken) GetOrCreateToken() (string, error) {
	return string(t), nil
}

// SpeakerQueue receives decoded assistant audio. *audioio.Player
// satisfies it.
type SpeakerQueue interface {
	Enqueue(pcm []byte) error
	Clear()
}

// Options holds the wiring of an Assistant.
type Options struct {
	// URL is the voice service base URL.
	URL string

	// Tokens supplies the anonymous token.
	Tokens TokenSource

	// Capture configures the microphone.
	Capture audioio.Config

	// CaptureFactory opens the microphone.
	CaptureFactory audioio.Factory

	// TransportFactory creates one transport per connection.
	TransportFactory TransportFactory

	// Speaker receives assistant audio. Nil discards it.
	Speaker SpeakerQueue

	// AutoStartSession starts a session when the connection is acknowledged.
	AutoStartSession bool

	// HandshakeTimeout bounds the transport handshake.
	HandshakeTimeout time.Duration

	// MeterProvider records metrics. Nil disables them.
	MeterProvider metric.MeterProvider

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		URL:              DefaultURL,
		Capture:          audioio.DefaultConfig(),
		CaptureFactory:   audioio.NewCaptureSession,
		TransportFactory: NewSocketTransport,
		HandshakeTimeout: 10 * time.Second,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options.
func (o *Options) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// Option configures an Assistant.
type Option func(*Options)

// WithURL sets the voice service base URL.
func WithURL(url string) Option {
	return func(o *Options) {
		o.URL = url
	}
}

// WithTokenSource sets the token source.
func WithTokenSource(ts TokenSource) Option {
	return func(o *Options) {
		o.Tokens = ts
	}
}

// WithToken uses a fixed token.
func WithToken(token string) Option {
	return func(o *Options) {
		o.Tokens = StaticToken(token)
	}
}

// WithCaptureConfig sets the microphone configuration.
func WithCaptureConfig(cfg audioio.Config) Option {
	return func(o *Options) {
		o.Capture = cfg
	}
}

// WithCaptureFactory sets how the microphone is opened.
func WithCaptureFactory(f audioio.Factory) Option {
	return func(o *Options) {
		o.CaptureFactory = f
	}
}

// WithTransportFactory sets how transports are created.
func WithTransportFactory(f TransportFactory) Option {
	return func(o *Options) {
		o.TransportFactory = f
	}
}

// WithSpeaker sets the playback queue for assistant audio.
func WithSpeaker(s SpeakerQueue) Option {
	return func(o *Options) {
		o.Speaker = s
	}
}

// WithAutoStartSession starts a session as soon as the service
// acknowledges the connection.
func WithAutoStartSession(enabled bool) Option {
	return func(o *Options) {
		o.AutoStartSession = enabled
	}
}

// WithHandshakeTimeout sets the transport handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.HandshakeTimeout = d
	}
}

// WithMeterProvider enables metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) {
		o.MeterProvider = mp
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
