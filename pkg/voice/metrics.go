package voice

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope of the voice package.
const meterName = "github.com/teslashibe/voicenote/pkg/voice"

// Metrics holds the OpenTelemetry instruments of an Assistant.
// The OTel types handle their own synchronisation.
type Metrics struct {
	// FramesSent counts audio frames handed to the transport.
	FramesSent metric.Int64Counter

	// BytesSent counts PCM16 bytes handed to the transport.
	BytesSent metric.Int64Counter

	// FramesDropped counts frames lost to a full outbound queue.
	FramesDropped metric.Int64Counter

	// FrameErrors counts frames that failed resampling or encoding.
	FrameErrors metric.Int64Counter

	// Events counts inbound events. Use with attribute.String("event", ...).
	Events metric.Int64Counter

	// ToolCalls counts tool handler invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// BackendErrors counts backend error events. Use with attribute:
	//   attribute.String("code", ...)
	BackendErrors metric.Int64Counter

	// ActiveSessions tracks acknowledged sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks transport connect latency.
	ConnectDuration metric.Float64Histogram
}

// NewMetrics creates the instruments from mp. A nil provider yields
// no-op instruments.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("voicenote.audio.frames_sent",
		metric.WithDescription("Audio frames sent to the voice service."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("voicenote.audio.bytes_sent",
		metric.WithDescription("PCM16 bytes sent to the voice service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicenote.audio.frames_dropped",
		metric.WithDescription("Audio frames dropped because the send queue was full."),
	); err != nil {
		return nil, err
	}
	if met.FrameErrors, err = m.Int64Counter("voicenote.audio.frame_errors",
		metric.WithDescription("Audio frames that failed resampling or encoding."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("voicenote.events",
		metric.WithDescription("Inbound voice service events by name."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voicenote.tool_calls",
		metric.WithDescription("Tool handler invocations by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("voicenote.backend_errors",
		metric.WithDescription("Backend error events by code."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicenote.sessions.active",
		metric.WithDescription("Number of active voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voicenote.connect.duration",
		metric.WithDescription("Latency of establishing the voice connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordFrame records one frame handed to the transport.
func (m *Metrics) RecordFrame(ctx context.Context, bytes int) {
	m.FramesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(bytes))
}

// RecordEvent records one inbound event.
func (m *Metrics) RecordEvent(ctx context.Context, name string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", name)))
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordBackendError records one backend error.
func (m *Metrics) RecordBackendError(ctx context.Context, code string) {
	m.BackendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}
