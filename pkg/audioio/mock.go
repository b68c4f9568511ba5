package audioio

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockCapture is a mock capture session for testing.
// Frames come from Emit or, when configured, a synthetic sine generator.
// Frames are delivered synchronously on the goroutine that produced them.
type MockCapture struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	framer   *Framer
	onFrame  func(Frame)
	startErr error

	// Stats
	framesCaptured atomic.Int64
	starts         atomic.Int64

	// Synthetic audio generation
	rate      float64
	phase     float64
	frequency float64 // Hz, 0 = no generator
	amplitude float64 // 0.0 to 1.0
	interval  time.Duration
}

// MockCaptureOption configures a MockCapture.
type MockCaptureOption func(*MockCapture)

// WithSineWave makes the mock generate a sine wave in real time.
func WithSineWave(frequency, amplitude float64) MockCaptureOption {
	return func(m *MockCapture) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithDeviceRate sets the rate the mock device reports, as a real device
// might run at 48000 Hz regardless of the requested rate.
func WithDeviceRate(rate float64) MockCaptureOption {
	return func(m *MockCapture) {
		m.rate = rate
	}
}

// WithStartError makes Start fail, simulating a refused microphone.
func WithStartError(err error) MockCaptureOption {
	return func(m *MockCapture) {
		m.startErr = err
	}
}

// NewMockCapture creates a new mock capture session.
func NewMockCapture(cfg Config, logger *slog.Logger, opts ...MockCaptureOption) *MockCapture {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockCapture{
		cfg:       cfg,
		logger:    logger,
		rate:      float64(cfg.SampleRate),
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.rate > 0 && cfg.BufferSize > 0 {
		m.interval = time.Duration(float64(cfg.BufferSize) / m.rate * float64(time.Second))
	}

	return m
}

// Start begins capture.
func (m *MockCapture) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.running {
		return nil
	}
	if m.startErr != nil {
		return m.startErr
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.framer = NewFramer(m.cfg.BufferSize, m.rate, m.deliver)
	m.starts.Add(1)

	if m.frequency > 0 && m.interval > 0 {
		m.wg.Add(1)
		go m.generateLoop(ctx, m.stopCh)
	}

	m.logger.Info("mock capture started",
		"sample_rate", m.rate,
		"frequency", m.frequency,
	)

	return nil
}

func (m *MockCapture) deliver(f Frame) {
	m.mu.Lock()
	fn := m.onFrame
	m.mu.Unlock()

	if fn != nil {
		fn(f)
	}
	m.framesCaptured.Add(1)
}

func (m *MockCapture) generateLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.Emit(m.sine(m.cfg.BufferSize))
		}
	}
}

func (m *MockCapture) sine(n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/m.rate))
		m.phase++
		if m.phase >= m.rate {
			m.phase = 0
		}
	}
	return samples
}

// Emit feeds samples as if the device had produced them. Full frames are
// delivered before Emit returns. Samples emitted while stopped are dropped.
func (m *MockCapture) Emit(samples []float32) {
	m.mu.Lock()
	framer := m.framer
	running := m.running
	m.mu.Unlock()

	if !running || framer == nil {
		return
	}
	framer.Write(samples)
}

// OnFrame sets the frame callback.
func (m *MockCapture) OnFrame(fn func(Frame)) {
	m.mu.Lock()
	m.onFrame = fn
	m.mu.Unlock()
}

// Stop halts capture. The mock cannot be restarted after Stop.
func (m *MockCapture) Stop() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	wasRunning := m.running
	m.running = false
	if wasRunning {
		close(m.stopCh)
	}
	m.mu.Unlock()

	m.wg.Wait()
	if wasRunning {
		m.logger.Info("mock capture stopped")
	}
	return nil
}

// SampleRate returns the mock device rate.
func (m *MockCapture) SampleRate() float64 {
	return m.rate
}

// Name returns "mock".
func (m *MockCapture) Name() string {
	return "mock"
}

// Running reports whether the mock is capturing.
func (m *MockCapture) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stopped reports whether Stop has been called.
func (m *MockCapture) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns capture statistics.
func (m *MockCapture) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		FramesCaptured: m.framesCaptured.Load(),
		Running:        running,
		Backend:        "mock",
	}
}

// Ensure MockCapture implements SessionWithStats.
var _ SessionWithStats = (*MockCapture)(nil)

// MockSink is a mock playback sink for testing.
// It records PCM writes instead of playing them.
type MockSink struct {
	mu      sync.Mutex
	writes  [][]byte
	closed  bool
	flushes int
	written chan struct{}
}

// NewMockSink creates a new mock sink.
func NewMockSink() *MockSink {
	return &MockSink{written: make(chan struct{}, 64)}
}

// Write records a PCM16 chunk.
func (m *MockSink) Write(pcm []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.writes = append(m.writes, append([]byte(nil), pcm...))
	m.mu.Unlock()

	select {
	case m.written <- struct{}{}:
	default:
	}
	return nil
}

// Flush counts a flush request.
func (m *MockSink) Flush() {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
}

// Close marks the sink closed.
func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Writes returns a copy of every chunk written so far.
func (m *MockSink) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}

// Written signals after each Write.
func (m *MockSink) Written() <-chan struct{} {
	return m.written
}

var _ Sink = (*MockSink)(nil)
