package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"testing"

	"github.com/teslashibe/voicenote/pkg/audioio"
)

type harness struct {
	a      *Assistant
	dialer *MockDialer

	mu          sync.Mutex
	captures    []*audioio.MockCapture
	captureOpts []audioio.MockCaptureOption
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{dialer: &MockDialer{}}

	capCfg := audioio.DefaultConfig()
	capCfg.Backend = audioio.BackendMock
	capCfg.BufferSize = 256

	base := []Option{
		WithToken("device-token"),
		WithCaptureConfig(capCfg),
		WithTransportFactory(h.dialer.Factory),
		WithCaptureFactory(func(c audioio.Config, l *slog.Logger) (audioio.CaptureSession, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			m := audioio.NewMockCapture(c, l, h.captureOpts...)
			h.captures = append(h.captures, m)
			return m, nil
		}),
	}
	a, err := New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.a = a
	t.Cleanup(func() { _ = a.Disconnect() })
	return h
}

func (h *harness) capture(t *testing.T) *audioio.MockCapture {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.captures) == 0 {
		t.Fatal("no capture session was opened")
	}
	return h.captures[len(h.captures)-1]
}

// connect connects and acknowledges the connection.
func (h *harness) connect(t *testing.T) *MockTransport {
	t.Helper()
	if err := h.a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr := h.dialer.Last()
	tr.SimulateConnected(map[string]any{"clientId": "c1"})
	if s := h.a.Status(); !s.IsConnected {
		t.Fatalf("expected connected, got %+v", s)
	}
	return tr
}

// record connects, starts a session and acknowledges it.
func (h *harness) record(t *testing.T) *MockTransport {
	t.Helper()
	tr := h.connect(t)
	if err := h.a.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	tr.SimulateSessionStarted(nil)
	if s := h.a.Status(); !s.IsRecording {
		t.Fatalf("expected recording, got %+v", s)
	}
	return tr
}

func frameOf(n int, value float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = value
	}
	return f
}

func TestAssistantConnectRequiresToken(t *testing.T) {
	for _, opt := range []Option{WithToken(""), WithTokenSource(nil)} {
		h := newHarness(t, Config{}, opt)

		err := h.a.Connect(context.Background())
		if !errors.Is(err, ErrAuthRequired) {
			t.Fatalf("expected ErrAuthRequired, got %v", err)
		}
		s := h.a.Status()
		if s.Error != "Authentication token required" {
			t.Errorf("error = %q", s.Error)
		}
		if s.State != StateIdle || s.IsConnecting {
			t.Errorf("state changed: %+v", s)
		}
		if h.dialer.Last() != nil {
			t.Error("no transport should be created without a token")
		}
	}
}

func TestAssistantStartSessionBeforeConnect(t *testing.T) {
	h := newHarness(t, Config{})
	before := h.a.Status()

	err := h.a.StartSession(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	after := h.a.Status()
	if after.Error != "Not connected to voice service" {
		t.Errorf("error = %q", after.Error)
	}
	after.Error = before.Error
	if after != before {
		t.Errorf("status changed beyond error: %+v -> %+v", before, after)
	}
}

func TestAssistantConnectPassesToken(t *testing.T) {
	h := newHarness(t, Config{}, WithURL("http://voice.test"))
	h.connect(t)

	opts := h.dialer.Last().Options()
	if opts.Token != "device-token" || opts.URL != "http://voice.test" {
		t.Errorf("transport options = %+v", opts)
	}
}

func TestAssistantStartMessage(t *testing.T) {
	schema := Schema{Type: "object", Required: []string{"meetingTitle"}}
	cfg := Config{
		Instructions: "Take notes.",
		Metadata:     map[string]any{"source": "cli"},
		Tools: []ToolRegistration{{
			Name:        "update_meeting_notes",
			Description: "Update notes",
			Schema:      schema,
			Handler:     noopHandler,
		}},
	}
	h := newHarness(t, cfg)
	tr := h.connect(t)

	if err := h.a.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if s := h.a.Status(); s.State != StateSessionStarting {
		t.Errorf("state = %v, want session_starting", s.State)
	}
	if !h.capture(t).Running() {
		t.Error("microphone should be acquired before the start message")
	}

	starts := tr.Starts()
	if len(starts) != 1 {
		t.Fatalf("sent %d start messages, want 1", len(starts))
	}
	msg := starts[0]
	if msg.Type != "start" || msg.Config.Instructions != "Take notes." {
		t.Errorf("start message = %+v", msg)
	}
	if msg.Config.Audio != (AudioParams{SampleRate: 24000, Channels: 1}) {
		t.Errorf("audio params = %+v", msg.Config.Audio)
	}
	want := map[string]ToolDeclaration{
		"update_meeting_notes": {Schema: schema, ToolDescription: "Update notes"},
	}
	if !reflect.DeepEqual(msg.Config.WSEventHandlers, want) {
		t.Errorf("declarations = %+v", msg.Config.WSEventHandlers)
	}
	if msg.Config.Metadata["source"] != "cli" {
		t.Errorf("metadata = %v", msg.Config.Metadata)
	}

	if err := h.a.StartSession(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second StartSession: expected ErrSessionActive, got %v", err)
	}
	if len(tr.Starts()) != 1 {
		t.Error("a second start message was sent")
	}
}

func TestAssistantSendsFramesInOrder(t *testing.T) {
	h := newHarness(t, Config{})
	tr := h.record(t)
	capture := h.capture(t)

	var want [][]byte
	for i := 0; i < 10; i++ {
		samples := frameOf(256, float32(i)/10)
		want = append(want, audioio.FloatToPCM16(samples))
		capture.Emit(samples)
	}

	got := tr.AudioSent()
	if len(got) != 10 {
		t.Fatalf("sent %d frames, want 10", len(got))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("frame %d differs from capture order", i)
		}
	}
	if s := h.a.Stats(); s.FramesSent != 10 || s.FramesDropped != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestAssistantResamplesDeviceRate(t *testing.T) {
	h := newHarness(t, Config{})
	h.captureOpts = []audioio.MockCaptureOption{audioio.WithDeviceRate(48000)}
	tr := h.record(t)

	h.capture(t).Emit(frameOf(256, 0.25))

	got := tr.AudioSent()
	if len(got) != 1 {
		t.Fatalf("sent %d frames, want 1", len(got))
	}
	if len(got[0]) != 128*2 {
		t.Errorf("frame is %d bytes, want %d", len(got[0]), 128*2)
	}
}

func TestAssistantPauseDiscardsFrames(t *testing.T) {
	h := newHarness(t, Config{})
	tr := h.record(t)
	capture := h.capture(t)

	if err := h.a.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	capture.Emit(frameOf(256, 0.1))
	if n := len(tr.AudioSent()); n != 0 {
		t.Errorf("sent %d frames while paused", n)
	}

	if err := h.a.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	capture.Emit(frameOf(256, 0.1))
	if n := len(tr.AudioSent()); n != 1 {
		t.Errorf("sent %d frames after resume, want 1", n)
	}
}

func TestAssistantFrameDropped(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.Setup = func(m *MockTransport) {
		m.SendAudioFunc = func([]byte) error {
			return fmt.Errorf("%w: queue full", ErrFrameDropped)
		}
	}
	h.record(t)

	h.capture(t).Emit(frameOf(256, 0.1))

	s := h.a.Status()
	if !s.IsRecording || s.Error != "" {
		t.Errorf("a dropped frame must not end the session: %+v", s)
	}
	if st := h.a.Stats(); st.FramesDropped != 1 || st.FramesSent != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestAssistantToolEvent(t *testing.T) {
	var calls []map[string]any
	cfg := Config{Tools: []ToolRegistration{{
		Name:    "update_meeting_notes",
		Handler: func(p map[string]any) { calls = append(calls, p) },
	}}}
	h := newHarness(t, cfg)
	tr := h.record(t)

	payload := map[string]any{
		"attendees":    []any{"A"},
		"meetingTitle": "T",
		"meetingNotes": "N",
		"actionItems":  []any{},
	}
	tr.SimulateTool("update_meeting_notes", payload)
	tr.SimulateTool("not_registered", map[string]any{})

	if len(calls) != 1 {
		t.Fatalf("handler invoked %d times, want 1", len(calls))
	}
	if !reflect.DeepEqual(calls[0], payload) {
		t.Errorf("payload = %v, want %v", calls[0], payload)
	}
	if s := h.a.Stats(); s.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", s.ToolCalls)
	}
}

func TestAssistantToolPanicSetsError(t *testing.T) {
	cfg := Config{Tools: []ToolRegistration{{
		Name:    "boom",
		Handler: func(map[string]any) { panic("bad") },
	}}}
	h := newHarness(t, cfg)
	tr := h.record(t)

	tr.SimulateTool("boom", nil)

	s := h.a.Status()
	if s.Error == "" || !s.IsRecording {
		t.Errorf("expected error with session intact, got %+v", s)
	}
}

func TestAssistantWritingHandler(t *testing.T) {
	var got []TranscriptEvent
	cfg := Config{Handlers: LocalHandlers{
		Writing: func(e TranscriptEvent) { got = append(got, e) },
	}}
	h := newHarness(t, cfg)
	tr := h.record(t)

	tr.SimulateWriting("user", "hello there")

	if len(got) != 1 {
		t.Fatalf("writing handler called %d times", len(got))
	}
	if got[0].Role != "user" || got[0].Text != "hello there" {
		t.Errorf("event = %+v", got[0])
	}
	if got[0].Elapsed < 0 {
		t.Errorf("elapsed = %v", got[0].Elapsed)
	}
}

func TestAssistantBackendErrors(t *testing.T) {
	var handled []error
	cfg := Config{Handlers: LocalHandlers{
		Error: func(err error) { handled = append(handled, err) },
	}}
	h := newHarness(t, cfg)
	tr := h.record(t)

	tr.SimulateError("conversation_already_has_active_response", "busy")
	if s := h.a.Status(); s.Error != "" {
		t.Errorf("ignored code surfaced: %q", s.Error)
	}
	if len(handled) != 0 {
		t.Error("ignored code reached the error handler")
	}

	tr.SimulateError("server_error", "")
	s := h.a.Status()
	if s.Error != "Voice session error" {
		t.Errorf("error = %q", s.Error)
	}
	if !s.IsRecording {
		t.Error("backend errors must not change the state")
	}
	if len(handled) != 1 {
		t.Fatalf("error handler called %d times", len(handled))
	}
	var be *BackendError
	if !errors.As(handled[0], &be) || be.Code != "server_error" {
		t.Errorf("handler got %v", handled[0])
	}
}

type speakerRecorder struct {
	mu      sync.Mutex
	chunks  [][]byte
	cleared int
}

func (s *speakerRecorder) Enqueue(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, pcm)
	return nil
}

func (s *speakerRecorder) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
}

func TestAssistantSpeakerAudio(t *testing.T) {
	spk := &speakerRecorder{}
	h := newHarness(t, Config{}, WithSpeaker(spk))
	tr := h.record(t)

	tr.SimulateSpeaker([]byte{1, 2, 3, 4})
	tr.SimulateSpeakerEnd()

	spk.mu.Lock()
	defer spk.mu.Unlock()
	if len(spk.chunks) != 1 || !bytes.Equal(spk.chunks[0], []byte{1, 2, 3, 4}) {
		t.Errorf("speaker chunks = %v", spk.chunks)
	}
}

func TestAssistantDisconnectEventWhileActive(t *testing.T) {
	h := newHarness(t, Config{})
	tr := h.record(t)
	capture := h.capture(t)
	tr.SimulateError("x", "earlier problem")

	tr.SimulateDisconnect("transport close")

	s := h.a.Status()
	if s.IsConnected || s.SessionActive || s.IsRecording {
		t.Errorf("flags not cleared: %+v", s)
	}
	if s.State != StateDisconnected {
		t.Errorf("state = %v", s.State)
	}
	if s.Error != "earlier problem" {
		t.Errorf("error = %q, want preserved", s.Error)
	}
	if !capture.Stopped() {
		t.Error("capture should be torn down")
	}
}

func TestAssistantDisconnectIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	tr := h.record(t)

	if err := h.a.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := h.a.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	if s := h.a.Status(); s.State != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State)
	}
	if n := tr.CloseCalls(); n != 1 {
		t.Errorf("transport closed %d times, want 1", n)
	}
	if n := tr.Stops(); n != 1 {
		t.Errorf("sent %d stop messages, want 1", n)
	}
}

func TestAssistantDisconnectFromIdle(t *testing.T) {
	h := newHarness(t, Config{})
	for i := 0; i < 2; i++ {
		if err := h.a.Disconnect(); err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
	}
	if s := h.a.Status(); s.State != StateDisconnected {
		t.Errorf("state = %v", s.State)
	}
}

func TestAssistantStopSession(t *testing.T) {
	h := newHarness(t, Config{})
	tr := h.record(t)
	capture := h.capture(t)

	if err := h.a.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}

	s := h.a.Status()
	if s.SessionActive || s.IsRecording || !s.IsConnected {
		t.Errorf("status = %+v, want connected without session", s)
	}
	if tr.Stops() != 1 {
		t.Errorf("sent %d stop messages", tr.Stops())
	}
	if !capture.Stopped() {
		t.Error("capture should be torn down")
	}

	// The backend acknowledgment arriving later changes nothing.
	tr.SimulateSessionStopped()
	if got := h.a.Status(); got != s {
		t.Errorf("late session.stopped changed status: %+v", got)
	}
}

func TestAssistantSessionStoppedEvent(t *testing.T) {
	h := newHarness(t, Config{})
	tr := h.record(t)
	capture := h.capture(t)

	tr.SimulateSessionStopped()

	s := h.a.Status()
	if s.SessionActive || s.IsRecording || s.State != StateConnected {
		t.Errorf("status = %+v", s)
	}
	if !capture.Stopped() {
		t.Error("capture should be torn down")
	}
}

func TestAssistantToggleRecording(t *testing.T) {
	h := newHarness(t, Config{})
	tr := h.connect(t)
	ctx := context.Background()

	if err := h.a.ToggleRecording(ctx); err != nil {
		t.Fatalf("ToggleRecording start: %v", err)
	}
	if len(tr.Starts()) != 1 {
		t.Fatal("toggle should send a start message")
	}
	tr.SimulateSessionStarted(nil)
	if !h.a.Status().IsRecording {
		t.Fatal("session acknowledgment should start recording")
	}

	if err := h.a.ToggleRecording(ctx); err != nil {
		t.Fatalf("ToggleRecording stop: %v", err)
	}
	if s := h.a.Status(); s.SessionActive {
		t.Errorf("status = %+v, want session stopped", s)
	}
}

func TestAssistantAutoStartSession(t *testing.T) {
	h := newHarness(t, Config{}, WithAutoStartSession(true))
	tr := h.connect(t)

	if len(tr.Starts()) != 1 {
		t.Fatalf("sent %d start messages, want 1", len(tr.Starts()))
	}
	tr.SimulateSessionStarted(nil)
	if !h.a.Status().IsRecording {
		t.Error("expected recording after auto-started session")
	}
}

func TestAssistantMicrophoneFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.captureOpts = []audioio.MockCaptureOption{audioio.WithStartError(audioio.ErrPermissionDenied)}
	tr := h.connect(t)

	err := h.a.StartSession(context.Background())
	if !errors.Is(err, audioio.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	s := h.a.Status()
	if s.State != StateConnected || s.SessionActive {
		t.Errorf("status = %+v, want connected without session", s)
	}
	if s.Error != "Microphone permission denied" {
		t.Errorf("error = %q", s.Error)
	}
	if len(tr.Starts()) != 0 {
		t.Error("start message sent without a microphone")
	}
}

func TestAssistantConnectFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.Setup = func(m *MockTransport) {
		m.ConnectFunc = func(context.Context) error {
			return NewTransportError("connect", errors.New("connection refused"), true)
		}
	}
	ctx := context.Background()

	if err := h.a.Connect(ctx); !IsRetryable(err) {
		t.Fatalf("expected retryable transport error, got %v", err)
	}
	s := h.a.Status()
	if s.State != StateConnecting || s.Error == "" {
		t.Errorf("status = %+v, want connecting with error", s)
	}
	if !h.dialer.Last().Closed() {
		t.Error("failed transport should be closed")
	}

	if err := h.a.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("retry without teardown: expected ErrAlreadyConnected, got %v", err)
	}

	h.dialer.Setup = nil
	_ = h.a.Disconnect()
	if err := h.a.Connect(ctx); err != nil {
		t.Fatalf("Connect after Disconnect: %v", err)
	}
	h.dialer.Last().SimulateConnected(nil)
	if !h.a.Status().IsConnected {
		t.Error("expected connected after retry")
	}
}

func TestAssistantIgnoresStaleConnection(t *testing.T) {
	h := newHarness(t, Config{})
	old := h.connect(t)
	_ = h.a.Disconnect()
	fresh := h.connect(t)

	old.SimulateDisconnect("transport close")
	old.SimulateSessionStarted(nil)

	s := h.a.Status()
	if !s.IsConnected || s.SessionActive {
		t.Errorf("stale events changed status: %+v", s)
	}
	if fresh.Closed() {
		t.Error("fresh transport should stay open")
	}
}

func TestAssistantUpdateConfig(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Instructions: "v1"})
	first := h.connect(t)

	if err := h.a.UpdateConfig(ctx, Config{Instructions: "v1"}); err != nil {
		t.Fatalf("UpdateConfig unchanged: %v", err)
	}
	if n := len(h.dialer.Transports()); n != 1 {
		t.Fatalf("unchanged config reconnected (%d transports)", n)
	}

	if err := h.a.UpdateConfig(ctx, Config{Instructions: "v2"}); err != nil {
		t.Fatalf("UpdateConfig changed: %v", err)
	}
	if n := len(h.dialer.Transports()); n != 2 {
		t.Fatalf("changed config did not reconnect (%d transports)", n)
	}
	if !first.Closed() {
		t.Error("old transport should be closed")
	}
	if s := h.a.Status(); s.State != StateConnecting {
		t.Errorf("state = %v, want connecting", s.State)
	}
	if h.a.Config().Instructions != "v2" {
		t.Error("config not replaced")
	}

	withTool := Config{Instructions: "v2", Tools: []ToolRegistration{
		{Name: "update_meeting_notes", Description: "v1", Handler: noopHandler},
	}}
	if err := h.a.UpdateConfig(ctx, withTool); err != nil {
		t.Fatalf("UpdateConfig tool added: %v", err)
	}
	if n := len(h.dialer.Transports()); n != 3 {
		t.Fatalf("added tool did not reconnect (%d transports)", n)
	}

	redescribed := Config{Instructions: "v2", Tools: []ToolRegistration{
		{Name: "update_meeting_notes", Description: "v2", Handler: noopHandler},
	}}
	if err := h.a.UpdateConfig(ctx, redescribed); err != nil {
		t.Fatalf("UpdateConfig description changed: %v", err)
	}
	if n := len(h.dialer.Transports()); n != 4 {
		t.Fatalf("changed tool description did not reconnect (%d transports)", n)
	}

	dup := Config{Tools: []ToolRegistration{
		{Name: "a", Handler: noopHandler},
		{Name: "a", Handler: noopHandler},
	}}
	if err := h.a.UpdateConfig(ctx, dup); !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestAssistantStatusObserver(t *testing.T) {
	h := newHarness(t, Config{})
	var states []State
	h.a.OnStatusChange(func(s ConnectionStatus) {
		checkInvariants(t, s)
		states = append(states, s.State)
	})

	h.record(t)
	_ = h.a.Disconnect()

	want := []State{
		StateConnecting, StateConnected, StateSessionStarting,
		StateSessionActive, StateRecording, StateDisconnected,
	}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestNewRejectsInvalidTools(t *testing.T) {
	_, err := New(Config{Tools: []ToolRegistration{{Name: "speaker", Handler: noopHandler}}})
	if !errors.Is(err, ErrReservedEvent) {
		t.Errorf("expected ErrReservedEvent, got %v", err)
	}
}
