//go:build cgo

package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioCapture is the fallback capture path. A goroutine performs
// blocking reads of exactly BufferSize samples and delivers each buffer
// as one frame.
type PortAudioCapture struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  blockingStream
	buf     []float32
	onFrame func(Frame)
	rate    float64
	running bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	framesCaptured atomic.Int64
	readErr        atomic.Pointer[error]
}

// blockingStream is the part of *portaudio.Stream the read loop uses.
type blockingStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
}

func newPortAudioCapture(cfg Config, logger *slog.Logger) (CaptureSession, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, deviceError("portaudio", err)
	}

	p := &PortAudioCapture{
		cfg:    cfg,
		logger: logger,
		buf:    make([]float32, cfg.BufferSize),
		rate:   float64(cfg.SampleRate),
	}

	stream, err := openPortAudioStream(cfg, p.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, deviceError("portaudio", err)
	}
	p.stream = stream
	if info := stream.Info(); info != nil && info.SampleRate > 0 {
		p.rate = info.SampleRate
	}
	return p, nil
}

func openPortAudioStream(cfg Config, buf []float32) (*portaudio.Stream, error) {
	if cfg.Device == "" {
		return portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), len(buf), buf)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var inputs []*portaudio.DeviceInfo
	var names []string
	for _, d := range devices {
		if d.MaxInputChannels >= cfg.Channels {
			inputs = append(inputs, d)
			names = append(names, d.Name)
		}
	}
	idx, err := pickDevice(names, cfg.Device)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(inputs[idx], nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = len(buf)
	return portaudio.OpenStream(params, buf)
}

// Start begins capture.
func (p *PortAudioCapture) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.stream.Start(); err != nil {
		return deviceError("portaudio", err)
	}
	p.readErr.Store(nil)
	p.stopCh = make(chan struct{})
	p.running = true

	p.wg.Add(1)
	go p.readLoop(p.stopCh, p.onFrame)

	p.logger.Info("microphone capture started",
		"backend", p.Name(),
		"sample_rate", p.rate,
		"buffer_size", p.cfg.BufferSize,
	)
	return nil
}

func (p *PortAudioCapture) readLoop(stopCh <-chan struct{}, onFrame func(Frame)) {
	defer p.wg.Done()

	var seq uint64
	for {
		err := p.stream.Read()
		select {
		case <-stopCh:
			return
		default:
		}
		if err != nil {
			if err == portaudio.InputOverflowed {
				continue
			}
			p.logger.Warn("portaudio read failed, capture stopped", "error", err)
			err = deviceError("portaudio", err)
			p.readErr.Store(&err)
			return
		}

		samples := make([]float32, len(p.buf))
		copy(samples, p.buf)
		if onFrame != nil {
			onFrame(Frame{Samples: samples, SampleRate: p.rate, Seq: seq})
		}
		seq++
		p.framesCaptured.Add(1)
	}
}

// OnFrame sets the frame callback. It takes effect on the next Start.
func (p *PortAudioCapture) OnFrame(fn func(Frame)) {
	p.mu.Lock()
	p.onFrame = fn
	p.mu.Unlock()
}

// Stop halts capture and releases the stream and library.
func (p *PortAudioCapture) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var stopErr error
	if p.running {
		close(p.stopCh)
		if err := p.stream.Stop(); err != nil {
			stopErr = fmt.Errorf("stop stream: %w", err)
		}
		p.wg.Wait()
		p.running = false
	}
	if err := p.stream.Close(); err != nil && stopErr == nil {
		stopErr = fmt.Errorf("close stream: %w", err)
	}
	_ = portaudio.Terminate()

	p.logger.Info("microphone capture stopped", "backend", p.Name())
	return stopErr
}

// Err returns the read error that ended capture, or nil while capture is
// healthy.
func (p *PortAudioCapture) Err() error {
	if e := p.readErr.Load(); e != nil {
		return *e
	}
	return nil
}

// SampleRate returns the stream's actual sample rate.
func (p *PortAudioCapture) SampleRate() float64 {
	return p.rate
}

// Name returns "portaudio".
func (p *PortAudioCapture) Name() string {
	return "portaudio"
}

// Stats returns capture statistics.
func (p *PortAudioCapture) Stats() SourceStats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	s := SourceStats{
		FramesCaptured: p.framesCaptured.Load(),
		Running:        running,
		Backend:        p.Name(),
	}
	if err := p.Err(); err != nil {
		s.Running = false
		s.Err = err.Error()
	}
	return s
}

var _ SessionWithStats = (*PortAudioCapture)(nil)
