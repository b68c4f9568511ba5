package voice

import (
	"context"
	"sync"
)

// MockTransport is a mock implementation of Transport for testing.
// Simulate* methods deliver inbound events the way the socket reader would.
type MockTransport struct {
	mu    sync.Mutex
	simMu sync.Mutex

	// State
	opts      TransportOptions
	connected bool
	closed    bool

	// Configurable behavior
	ConnectFunc   func(ctx context.Context) error
	SendAudioFunc func(pcm []byte) error
	SendStartFunc func(msg StartMessage) error

	// Captured calls for assertions
	audioSent  [][]byte
	starts     []StartMessage
	stops      int
	closeCalls int
}

// NewMockTransport creates a mock bound to opts.
func NewMockTransport(opts TransportOptions) *MockTransport {
	return &MockTransport{opts: opts}
}

// Connect implements Transport.
func (m *MockTransport) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		if err := m.ConnectFunc(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// SendStart implements Transport.
func (m *MockTransport) SendStart(msg StartMessage) error {
	if m.SendStartFunc != nil {
		if err := m.SendStartFunc(msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return NewTransportError("emit start", ErrNotConnected, false)
	}
	m.starts = append(m.starts, msg)
	return nil
}

// SendAudio implements Transport.
func (m *MockTransport) SendAudio(pcm []byte) error {
	if m.SendAudioFunc != nil {
		if err := m.SendAudioFunc(pcm); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return NewTransportError("emit audio", ErrNotConnected, false)
	}
	m.audioSent = append(m.audioSent, pcm)
	return nil
}

// SendStop implements Transport.
func (m *MockTransport) SendStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return NewTransportError("emit stop", ErrNotConnected, false)
	}
	m.stops++
	return nil
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closed = true
	m.closeCalls++
	return nil
}

// Connected implements Transport.
func (m *MockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Options returns the options the transport was created with.
func (m *MockTransport) Options() TransportOptions {
	return m.opts
}

// AudioSent returns the captured audio frames.
func (m *MockTransport) AudioSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.audioSent))
	copy(out, m.audioSent)
	return out
}

// Starts returns the captured start messages.
func (m *MockTransport) Starts() []StartMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StartMessage, len(m.starts))
	copy(out, m.starts)
	return out
}

// Stops returns how many stop messages were sent.
func (m *MockTransport) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// CloseCalls returns how many times Close was called.
func (m *MockTransport) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Simulation methods for testing. They serialize like a socket reader.

// SimulateConnected delivers the connection acknowledgment.
func (m *MockTransport) SimulateConnected(ack map[string]any) {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if fn := m.opts.Events.Connected; fn != nil {
		fn(ack)
	}
}

// SimulateSessionStarted delivers the session acknowledgment.
func (m *MockTransport) SimulateSessionStarted(ack map[string]any) {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if fn := m.opts.Events.SessionStarted; fn != nil {
		fn(ack)
	}
}

// SimulateSessionStopped delivers a session.stopped event.
func (m *MockTransport) SimulateSessionStopped() {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if fn := m.opts.Events.SessionStopped; fn != nil {
		fn()
	}
}

// SimulateSpeaker delivers assistant audio.
func (m *MockTransport) SimulateSpeaker(pcm []byte) {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if fn := m.opts.Events.Speaker; fn != nil {
		fn(pcm)
	}
}

// SimulateSpeakerEnd delivers the end of an assistant utterance.
func (m *MockTransport) SimulateSpeakerEnd() {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if fn := m.opts.Events.SpeakerEnd; fn != nil {
		fn()
	}
}

// SimulateWriting delivers a transcript line.
func (m *MockTransport) SimulateWriting(role, text string) {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if fn := m.opts.Events.Writing; fn != nil {
		fn(role, text)
	}
}

// SimulateError delivers a backend error.
func (m *MockTransport) SimulateError(code, message string) {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if fn := m.opts.Events.Error; fn != nil {
		fn(NewBackendError(code, message))
	}
}

// SimulateTool delivers a custom event.
func (m *MockTransport) SimulateTool(name string, payload map[string]any) {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if fn := m.opts.Events.Tool; fn != nil {
		fn(name, payload)
	}
}

// SimulateDisconnect drops the connection with reason.
func (m *MockTransport) SimulateDisconnect(reason string) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	m.simMu.Lock()
	defer m.simMu.Unlock()
	if fn := m.opts.Events.Disconnect; fn != nil {
		fn(reason)
	}
}

// MockDialer is a TransportFactory recording every transport it creates.
type MockDialer struct {
	mu         sync.Mutex
	transports []*MockTransport

	// Setup customizes each new transport before it is returned.
	Setup func(*MockTransport)
}

// Factory implements TransportFactory.
func (d *MockDialer) Factory(opts TransportOptions) Transport {
	t := NewMockTransport(opts)
	if d.Setup != nil {
		d.Setup(t)
	}
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t
}

// Transports returns every transport created so far.
func (d *MockDialer) Transports() []*MockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockTransport, len(d.transports))
	copy(out, d.transports)
	return out
}

// Last returns the most recent transport, or nil.
func (d *MockDialer) Last() *MockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}
