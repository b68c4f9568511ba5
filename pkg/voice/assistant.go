package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/voicenote/pkg/audioio"
)

// link is the transport of one connection attempt. Events carrying an
// older generation are ignored.
type link struct {
	t   Transport
	gen uint64
}

// profile is the immutable configuration in effect.
type profile struct {
	cfg    Config
	router *ToolRouter
}

// Stats reports assistant counters.
type Stats struct {
	FramesSent     uint64
	FramesDropped  uint64
	FrameErrors    uint64
	EventsReceived uint64
	ToolCalls      uint64
	Capture        *audioio.SourceStats
}

// Assistant connects the microphone, the voice service and the tool
// handlers of one configuration.
//
// Operations are serialized. Audio frames take a separate path that never
// waits on an operation: a frame is sent only while the status says
// Recording, and is dropped otherwise.
type Assistant struct {
	mu      sync.Mutex
	opts    *Options
	sm      *StateMachine
	metrics *Metrics
	logger  *slog.Logger

	prof    atomic.Pointer[profile]
	link    atomic.Pointer[link]
	gen     atomic.Uint64
	capture audioio.CaptureSession

	sessionStart   atomic.Int64
	sessionCounted atomic.Bool

	// Stats
	framesSent     atomic.Uint64
	framesDropped  atomic.Uint64
	frameErrors    atomic.Uint64
	eventsReceived atomic.Uint64
	toolCalls      atomic.Uint64
}

// New creates an assistant in StateIdle. The configuration's tool
// registrations are validated here.
func New(cfg Config, opts ...Option) (*Assistant, error) {
	o := DefaultOptions()
	o.Apply(opts...)
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.CaptureFactory == nil {
		o.CaptureFactory = audioio.NewCaptureSession
	}
	if o.TransportFactory == nil {
		o.TransportFactory = NewSocketTransport
	}
	if err := o.Capture.Validate(); err != nil {
		return nil, err
	}

	logger := o.Logger.With("component", "voice")
	router, err := NewToolRouter(cfg.Tools, logger)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(o.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("voice: create metrics: %w", err)
	}

	a := &Assistant{
		opts:    o,
		sm:      NewStateMachine(logger),
		metrics: metrics,
		logger:  logger,
	}
	a.prof.Store(&profile{cfg: cfg, router: router})
	return a, nil
}

// Status returns the current connection status.
func (a *Assistant) Status() ConnectionStatus {
	return a.sm.Status()
}

// OnStatusChange sets the single status observer. The observer runs
// synchronously after each transition and must not call Assistant
// operations other than Status.
func (a *Assistant) OnStatusChange(fn func(ConnectionStatus)) {
	a.sm.OnChange(fn)
}

// Config returns the configuration in effect.
func (a *Assistant) Config() Config {
	return a.prof.Load().cfg
}

// Connect opens the connection to the voice service. Without a token only
// the error field changes. A failed connection stays in Connecting with
// the error set until Disconnect is called.
func (a *Assistant) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectLocked(ctx)
}

func (a *Assistant) connectLocked(ctx context.Context) error {
	token, err := a.token()
	if err != nil {
		a.sm.SetError("Authentication token required")
		return err
	}
	if err := a.sm.BeginConnect(); err != nil {
		return err
	}

	gen := a.gen.Add(1)
	t := a.opts.TransportFactory(TransportOptions{
		URL:              a.opts.URL,
		Token:            token,
		HandshakeTimeout: a.opts.HandshakeTimeout,
		Events:           a.events(gen),
		Logger:           a.opts.Logger,
	})
	l := &link{t: t, gen: gen}
	a.link.Store(l)

	start := time.Now()
	if err := t.Connect(ctx); err != nil {
		a.link.CompareAndSwap(l, nil)
		_ = t.Close()
		msg := err.Error()
		if msg == "" {
			msg = "Connection failed"
		}
		a.sm.SetError(msg)
		a.logger.Error("failed to connect to voice service", "url", a.opts.URL, "error", err)
		return err
	}
	a.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	a.logger.Info("voice transport connected", "url", a.opts.URL)
	return nil
}

func (a *Assistant) token() (string, error) {
	if a.opts.Tokens == nil {
		return "", ErrAuthRequired
	}
	token, err := a.opts.Tokens.GetOrCreateToken()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	if token == "" {
		return "", ErrAuthRequired
	}
	return token, nil
}

// Disconnect tears down capture and the connection from any state. It is
// idempotent and always leaves the assistant Disconnected.
func (a *Assistant) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnectLocked()
	return nil
}

func (a *Assistant) disconnectLocked() {
	l := a.link.Swap(nil)
	st := a.sm.Status()

	a.closeCapture()
	if l != nil {
		if (st.SessionActive || st.State == StateSessionStarting) && l.t.Connected() {
			if err := l.t.SendStop(); err != nil {
				a.logger.Debug("stop message not sent", "error", err)
			}
		}
		if err := l.t.Close(); err != nil {
			a.logger.Debug("transport close failed", "error", err)
		}
	}
	a.endSession()
	a.clearSpeaker()
	a.sm.Disconnected()
}

// StartSession acquires the microphone and sends the start message.
// Recording begins when the service acknowledges the session.
func (a *Assistant) StartSession(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startSessionLocked(ctx)
}

func (a *Assistant) startSessionLocked(ctx context.Context) error {
	l := a.link.Load()
	if l == nil || !l.t.Connected() {
		// Reports ErrNotConnected or ErrSessionActive for the current state.
		if err := a.sm.BeginSession(); err != nil {
			return err
		}
		a.sm.SessionStartFailed("Not connected to voice service")
		return ErrNotConnected
	}
	if err := a.sm.BeginSession(); err != nil {
		return err
	}

	if err := a.openCapture(ctx); err != nil {
		a.sm.SessionStartFailed(captureErrorMessage(err))
		a.logger.Error("failed to acquire microphone", "error", err)
		return err
	}

	msg := a.startMessage()
	if err := l.t.SendStart(msg); err != nil {
		a.closeCapture()
		a.sm.SessionStartFailed(err.Error())
		return err
	}
	a.logger.Info("voice session requested",
		"tools", len(msg.Config.WSEventHandlers),
		"sample_rate", msg.Config.Audio.SampleRate,
	)
	return nil
}

func (a *Assistant) startMessage() StartMessage {
	p := a.prof.Load()
	metadata := make(map[string]any, len(p.cfg.Metadata))
	for k, v := range p.cfg.Metadata {
		metadata[k] = v
	}
	return StartMessage{
		Type: "start",
		Config: StartConfig{
			Instructions:    p.cfg.Instructions,
			WSEventHandlers: p.router.Declarations(),
			Metadata:        metadata,
			Audio: AudioParams{
				SampleRate: audioio.TargetSampleRate,
				Channels:   audioio.Channels,
			},
		},
	}
}

// StopSession sends the stop message and tears down capture without
// waiting for the service. The connection stays open.
func (a *Assistant) StopSession() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopSessionLocked()
	return nil
}

func (a *Assistant) stopSessionLocked() {
	st := a.sm.Status()
	if l := a.link.Load(); l != nil && l.t.Connected() &&
		(st.SessionActive || st.State == StateSessionStarting) {
		if err := l.t.SendStop(); err != nil {
			a.logger.Warn("failed to send stop", "error", err)
		}
	}
	a.closeCapture()
	a.endSession()
	a.sm.SessionStopped()
}

// StartRecording begins streaming in an active session. It is a no-op
// when already recording.
func (a *Assistant) StartRecording(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startRecordingLocked(ctx)
}

func (a *Assistant) startRecordingLocked(ctx context.Context) error {
	st := a.sm.Status()
	if st.IsRecording {
		return nil
	}
	if !st.SessionActive {
		return ErrNoSession
	}
	if err := a.openCapture(ctx); err != nil {
		a.sm.SetError(captureErrorMessage(err))
		return err
	}
	return a.sm.StartRecording()
}

// ToggleRecording starts a session when none is active and stops the
// active one otherwise.
func (a *Assistant) ToggleRecording(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sm.Status().SessionActive {
		a.stopSessionLocked()
		return nil
	}
	return a.startSessionLocked(ctx)
}

// Pause stops streaming while keeping the session. Frames captured while
// paused are discarded.
func (a *Assistant) Pause() error {
	return a.sm.Pause()
}

// Resume continues streaming after Pause.
func (a *Assistant) Resume() error {
	return a.sm.Resume()
}

// UpdateConfig replaces the configuration. When connected and the
// instructions, tool set or metadata changed, the connection is torn
// down and re-established.
func (a *Assistant) UpdateConfig(ctx context.Context, cfg Config) error {
	router, err := NewToolRouter(cfg.Tools, a.logger)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	old := a.prof.Load()
	changed := cfg.Instructions != old.cfg.Instructions ||
		!sameTools(router, old.router) ||
		!reflect.DeepEqual(cfg.Metadata, old.cfg.Metadata)
	a.prof.Store(&profile{cfg: cfg, router: router})

	st := a.sm.Status()
	if !changed || !(st.IsConnected || st.IsConnecting) {
		return nil
	}
	a.logger.Info("configuration changed, reconnecting")
	a.disconnectLocked()
	return a.connectLocked(ctx)
}

// Stats returns assistant counters.
func (a *Assistant) Stats() Stats {
	s := Stats{
		FramesSent:     a.framesSent.Load(),
		FramesDropped:  a.framesDropped.Load(),
		FrameErrors:    a.frameErrors.Load(),
		EventsReceived: a.eventsReceived.Load(),
		ToolCalls:      a.toolCalls.Load(),
	}
	a.mu.Lock()
	if ws, ok := a.capture.(audioio.SessionWithStats); ok {
		cs := ws.Stats()
		s.Capture = &cs
	}
	a.mu.Unlock()
	return s
}

// openCapture acquires the microphone once per session.
func (a *Assistant) openCapture(ctx context.Context) error {
	if a.capture != nil {
		return nil
	}
	cs, err := a.opts.CaptureFactory(a.opts.Capture, a.opts.Logger)
	if err != nil {
		return err
	}
	cs.OnFrame(a.handleFrame)
	if err := cs.Start(ctx); err != nil {
		_ = cs.Stop()
		return err
	}
	a.capture = cs
	a.logger.Info("microphone acquired", "backend", cs.Name(), "sample_rate", cs.SampleRate())
	return nil
}

func (a *Assistant) closeCapture() {
	if a.capture == nil {
		return
	}
	if err := a.capture.Stop(); err != nil {
		a.logger.Warn("failed to stop capture", "error", err)
	}
	a.capture = nil
}

func (a *Assistant) endSession() {
	a.sessionStart.Store(0)
	if a.sessionCounted.Swap(false) {
		a.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

func (a *Assistant) clearSpeaker() {
	if a.opts.Speaker != nil {
		a.opts.Speaker.Clear()
	}
}

// handleFrame runs on the capture delivery goroutine. It must not take mu:
// stopping capture waits for the frame in flight.
func (a *Assistant) handleFrame(f audioio.Frame) {
	if a.sm.Status().State != StateRecording {
		return
	}
	l := a.link.Load()
	if l == nil {
		return
	}

	ctx := context.Background()
	pcm, err := audioio.EncodeFrame(f, audioio.TargetSampleRate)
	if err != nil {
		a.frameErrors.Add(1)
		a.metrics.FrameErrors.Add(ctx, 1)
		perr := &AudioProcessingError{Seq: f.Seq, Cause: err}
		a.sm.SetError(perr.Error())
		return
	}

	if err := l.t.SendAudio(pcm); err != nil {
		if errors.Is(err, ErrFrameDropped) {
			a.framesDropped.Add(1)
			a.metrics.FramesDropped.Add(ctx, 1)
			return
		}
		a.sm.SetError(err.Error())
		return
	}
	a.framesSent.Add(1)
	a.metrics.RecordFrame(ctx, len(pcm))
}

// current reports whether gen is the live connection.
func (a *Assistant) current(gen uint64) bool {
	l := a.link.Load()
	return l != nil && l.gen == gen
}

// events builds the transport callbacks of connection gen.
func (a *Assistant) events(gen uint64) TransportEvents {
	return TransportEvents{
		Connected:      func(map[string]any) { a.onConnected(gen) },
		SessionStarted: func(map[string]any) { a.onSessionStarted(gen) },
		SessionStopped: func() { a.onSessionStopped(gen) },
		Speaker:        func(pcm []byte) { a.onSpeaker(gen, pcm) },
		SpeakerEnd:     func() { a.observe(gen, EventSpeakerEnd) },
		Writing:        func(role, text string) { a.onWriting(gen, role, text) },
		Error:          func(err *BackendError) { a.onError(gen, err) },
		Tool:           func(name string, payload map[string]any) { a.onTool(gen, name, payload) },
		Disconnect:     func(reason string) { a.onDisconnect(gen, reason) },
	}
}

// observe counts an event and reports whether it belongs to gen.
func (a *Assistant) observe(gen uint64, name string) bool {
	if !a.current(gen) {
		a.logger.Debug("ignoring event from stale connection", "event", name)
		return false
	}
	a.eventsReceived.Add(1)
	a.metrics.RecordEvent(context.Background(), name)
	return true
}

func (a *Assistant) onConnected(gen uint64) {
	if !a.observe(gen, EventConnected) {
		return
	}
	if !a.sm.Connected() || !a.opts.AutoStartSession {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.current(gen) {
		return
	}
	if err := a.startSessionLocked(context.Background()); err != nil {
		a.logger.Warn("automatic session start failed", "error", err)
	}
}

func (a *Assistant) onSessionStarted(gen uint64) {
	if !a.observe(gen, EventSessionStarted) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.current(gen) || !a.sm.SessionStarted() {
		return
	}
	a.sessionStart.Store(time.Now().UnixNano())
	if !a.sessionCounted.Swap(true) {
		a.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	a.logger.Info("voice session started")
	if err := a.startRecordingLocked(context.Background()); err != nil {
		a.logger.Warn("failed to start recording", "error", err)
	}
}

func (a *Assistant) onSessionStopped(gen uint64) {
	if !a.observe(gen, EventSessionStopped) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.current(gen) {
		return
	}
	a.closeCapture()
	a.endSession()
	a.sm.SessionStopped()
	a.logger.Info("voice session stopped")
}

func (a *Assistant) onSpeaker(gen uint64, pcm []byte) {
	if !a.observe(gen, EventSpeaker) || a.opts.Speaker == nil {
		return
	}
	if err := a.opts.Speaker.Enqueue(pcm); err != nil {
		a.logger.Debug("dropping assistant audio", "bytes", len(pcm), "error", err)
	}
}

func (a *Assistant) onWriting(gen uint64, role, text string) {
	if !a.observe(gen, EventWriting) {
		return
	}
	fn := a.prof.Load().cfg.Handlers.Writing
	if fn == nil {
		return
	}
	var elapsed time.Duration
	if start := a.sessionStart.Load(); start != 0 {
		elapsed = time.Since(time.Unix(0, start))
	}
	fn(TranscriptEvent{Role: role, Text: text, Elapsed: elapsed})
}

func (a *Assistant) onError(gen uint64, be *BackendError) {
	if !a.observe(gen, EventError) {
		return
	}
	a.metrics.RecordBackendError(context.Background(), be.Code)
	if be.IsIgnored() {
		a.logger.Debug("ignoring backend error", "code", be.Code)
		return
	}
	a.logger.Error("voice session error", "code", be.Code, "message", be.Message)
	a.sm.SetError(be.Message)
	if fn := a.prof.Load().cfg.Handlers.Error; fn != nil {
		fn(be)
	}
}

func (a *Assistant) onTool(gen uint64, name string, payload map[string]any) {
	if !a.observe(gen, name) {
		return
	}
	handled, err := a.prof.Load().router.Dispatch(name, payload)
	if !handled {
		a.logger.Debug("unhandled event", "event", name)
		return
	}
	a.toolCalls.Add(1)
	a.metrics.RecordToolCall(context.Background(), name, err)
	if err != nil {
		a.logger.Error("tool handler failed", "tool", name, "error", err)
		a.sm.SetError(err.Error())
	}
}

func (a *Assistant) onDisconnect(gen uint64, reason string) {
	if !a.current(gen) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	l := a.link.Load()
	if l == nil || l.gen != gen {
		return
	}
	a.link.Store(nil)
	a.closeCapture()
	a.endSession()
	a.clearSpeaker()
	a.sm.Disconnected()
	a.logger.Warn("voice connection lost", "reason", reason)
}

func captureErrorMessage(err error) string {
	switch {
	case errors.Is(err, audioio.ErrPermissionDenied):
		return "Microphone permission denied"
	case errors.Is(err, audioio.ErrDeviceUnavailable):
		return "Microphone unavailable"
	default:
		return err.Error()
	}
}
