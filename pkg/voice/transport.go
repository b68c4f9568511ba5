package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/voicenote/pkg/socketio"
)

// Reserved event names of the voice protocol.
const (
	EventConnected      = "connected"
	EventSessionStarted = "session.started"
	EventSessionStopped = "session.stopped"
	EventSpeaker        = "speaker"
	EventSpeakerEnd     = "speaker.end"
	EventWriting        = "writing"
	EventError          = "error"

	eventStart = "start"
	eventAudio = "audio"
	eventStop  = "stop"
)

// AudioParams describes the outbound audio stream.
type AudioParams struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

// StartConfig is the configuration carried by the start message.
type StartConfig struct {
	Instructions    string                     `json:"instructions"`
	WSEventHandlers map[string]ToolDeclaration `json:"wsEventHandlers"`
	Metadata        map[string]any             `json:"metadata"`
	Audio           AudioParams                `json:"audio"`
}

// StartMessage asks the service to begin a session.
type StartMessage struct {
	Type   string      `json:"type"`
	Config StartConfig `json:"config"`
}

// TransportEvents are the callbacks a transport delivers inbound events to.
// They run sequentially on a single goroutine owned by the transport.
type TransportEvents struct {
	Connected      func(ack map[string]any)
	SessionStarted func(ack map[string]any)
	SessionStopped func()
	Speaker        func(pcm []byte)
	SpeakerEnd     func()
	Writing        func(role, text string)
	Error          func(err *BackendError)
	Tool           func(name string, payload map[string]any)
	Disconnect     func(reason string)
}

// TransportOptions configures one transport connection.
type TransportOptions struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	Events           TransportEvents
	Logger           *slog.Logger
}

// Transport is one authenticated connection to the voice service.
type Transport interface {
	// Connect establishes the connection. The Connected event follows
	// once the service acknowledges it.
	Connect(ctx context.Context) error

	// SendStart emits the start message.
	SendStart(msg StartMessage) error

	// SendAudio emits one PCM16 frame without blocking. A full outbound
	// queue returns an error wrapping ErrFrameDropped.
	SendAudio(pcm []byte) error

	// SendStop emits the stop message.
	SendStop() error

	// Close tears the connection down. It is idempotent.
	Close() error

	// Connected reports whether the connection is open.
	Connected() bool
}

// TransportFactory creates a transport for one connection attempt.
type TransportFactory func(opts TransportOptions) Transport

// SocketTransport speaks the voice protocol over a Socket.IO client.
type SocketTransport struct {
	client *socketio.Client
	events TransportEvents
	logger *slog.Logger
}

// NewSocketTransport creates a transport on the /voice namespace. The
// token goes both in the namespace auth payload and the x-token header.
func NewSocketTransport(opts TransportOptions) Transport {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("x-token", opts.Token)
	}

	t := &SocketTransport{
		events: opts.Events,
		logger: logger.With("component", "voice-transport"),
	}
	t.client = socketio.New(socketio.Config{
		URL:              opts.URL,
		Namespace:        Namespace,
		Auth:             map[string]string{"token": opts.Token},
		Header:           header,
		HandshakeTimeout: opts.HandshakeTimeout,
	}, logger)
	t.register()
	return t
}

func (t *SocketTransport) register() {
	ev := t.events
	t.client.On(EventConnected, func(e socketio.Event) {
		if ev.Connected != nil {
			ev.Connected(objectArg(e))
		}
	})
	t.client.On(EventSessionStarted, func(e socketio.Event) {
		if ev.SessionStarted != nil {
			ev.SessionStarted(objectArg(e))
		}
	})
	t.client.On(EventSessionStopped, func(socketio.Event) {
		if ev.SessionStopped != nil {
			ev.SessionStopped()
		}
	})
	t.client.On(EventSpeaker, func(e socketio.Event) {
		v, err := e.Value(0)
		if err != nil {
			t.logger.Warn("malformed speaker payload", "error", err)
			return
		}
		pcm, err := normalizeSpeakerPayload(v)
		if err != nil {
			t.logger.Warn("unrecognized speaker payload", "error", err)
			return
		}
		if ev.Speaker != nil && len(pcm) > 0 {
			ev.Speaker(pcm)
		}
	})
	t.client.On(EventSpeakerEnd, func(socketio.Event) {
		if ev.SpeakerEnd != nil {
			ev.SpeakerEnd()
		}
	})
	t.client.On(EventWriting, func(e socketio.Event) {
		var w struct {
			Role string `json:"role"`
			Text string `json:"text"`
		}
		if err := e.Decode(0, &w); err != nil {
			t.logger.Warn("malformed writing payload", "error", err)
			return
		}
		if ev.Writing != nil {
			ev.Writing(w.Role, w.Text)
		}
	})
	t.client.On(EventError, func(e socketio.Event) {
		if ev.Error != nil {
			ev.Error(parseBackendError(objectArg(e)))
		}
	})
	t.client.OnAny(func(e socketio.Event) {
		if ev.Tool != nil {
			ev.Tool(e.Name, toolPayload(e))
		}
	})
	t.client.OnDisconnect(func(reason string) {
		if ev.Disconnect != nil {
			ev.Disconnect(reason)
		}
	})
}

// Connect dials the service and joins the /voice namespace.
func (t *SocketTransport) Connect(ctx context.Context) error {
	if err := t.client.Connect(ctx); err != nil {
		var ce *socketio.ConnectError
		retryable := !errors.As(err, &ce)
		return NewTransportError("connect", err, retryable)
	}
	return nil
}

// SendStart emits the start message.
func (t *SocketTransport) SendStart(msg StartMessage) error {
	return t.emit(eventStart, msg)
}

// SendAudio emits one binary audio frame.
func (t *SocketTransport) SendAudio(pcm []byte) error {
	return t.emit(eventAudio, pcm)
}

// SendStop emits the stop message.
func (t *SocketTransport) SendStop() error {
	return t.emit(eventStop)
}

func (t *SocketTransport) emit(event string, args ...any) error {
	err := t.client.Emit(event, args...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, socketio.ErrQueueFull):
		return fmt.Errorf("%w: %w", ErrFrameDropped, err)
	default:
		return NewTransportError("emit "+event, err, false)
	}
}

// Close leaves the namespace and closes the socket.
func (t *SocketTransport) Close() error {
	return t.client.Close()
}

// Connected reports whether the namespace connection is open.
func (t *SocketTransport) Connected() bool {
	return t.client.Connected()
}

// objectArg returns the first argument as an object, or nil.
func objectArg(e socketio.Event) map[string]any {
	v, err := e.Value(0)
	if err != nil {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

// toolPayload returns the first argument as a handler payload. Non-object
// payloads are wrapped under "value".
func toolPayload(e socketio.Event) map[string]any {
	v, err := e.Value(0)
	if err != nil || v == nil {
		return map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

// parseBackendError accepts {error:{code,message}} and flat {code,message}.
func parseBackendError(payload map[string]any) *BackendError {
	var code, msg string
	if nested, ok := payload["error"].(map[string]any); ok {
		code, _ = nested["code"].(string)
		msg, _ = nested["message"].(string)
	}
	if code == "" {
		code, _ = payload["code"].(string)
	}
	if msg == "" {
		msg, _ = payload["message"].(string)
	}
	if msg == "" {
		msg, _ = payload["error"].(string)
	}
	return NewBackendError(code, msg)
}

// normalizeSpeakerPayload turns every speaker payload shape into PCM bytes:
// a binary attachment, a base64 string, a JSON byte array, {"data": ...}
// and the Node.js Buffer form {"type":"Buffer","data":[...]}.
func normalizeSpeakerPayload(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case string:
		b, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			b, err = base64.RawStdEncoding.DecodeString(t)
		}
		if err != nil {
			return nil, fmt.Errorf("voice: speaker payload is not base64: %w", err)
		}
		return b, nil
	case []any:
		out := make([]byte, len(t))
		for i, e := range t {
			n, ok := e.(float64)
			if !ok || n < 0 || n > 255 || n != float64(int(n)) {
				return nil, fmt.Errorf("voice: speaker byte %d is not in 0..255", i)
			}
			out[i] = byte(n)
		}
		return out, nil
	case map[string]any:
		data, ok := t["data"]
		if !ok {
			return nil, errors.New("voice: speaker object has no data field")
		}
		return normalizeSpeakerPayload(data)
	default:
		return nil, fmt.Errorf("voice: unsupported speaker payload %T", v)
	}
}
