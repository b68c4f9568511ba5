//go:build cgo

package audioio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

const nativeAudio = true

// MalgoCapture captures from the default input device through miniaudio.
// The device data callback runs on the audio thread and only converts,
// re-blocks and hands frames to the dispatcher.
type MalgoCapture struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	framer  atomic.Pointer[Framer]
	disp    *dispatcher
	onFrame func(Frame)
	rate    float64
	running bool
	closed  bool
	scratch []float32
}

// newMalgoCapture initialises the context and device without starting it,
// so a missing backend is detected at construction time.
func newMalgoCapture(cfg Config, logger *slog.Logger) (CaptureSession, error) {
	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime

	actx, err := malgo.InitContext(nil, ctxCfg, func(msg string) {
		logger.Debug("miniaudio", "message", msg)
	})
	if err != nil {
		return nil, deviceError("malgo", err)
	}

	m := &MalgoCapture{
		cfg:    cfg,
		logger: logger,
		ctx:    actx,
		rate:   float64(cfg.SampleRate),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1
	if cfg.Device != "" {
		if err := selectMalgoDevice(actx, &devCfg, cfg.Device); err != nil {
			_ = actx.Uninit()
			actx.Free()
			return nil, err
		}
	}

	device, err := malgo.InitDevice(actx.Context, devCfg, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		_ = actx.Uninit()
		actx.Free()
		return nil, deviceError("malgo", err)
	}
	m.device = device
	if sr := device.SampleRate(); sr > 0 {
		m.rate = float64(sr)
	}

	if cfg.Processing != (Processing{}) {
		logger.Debug("voice processing not exposed by miniaudio, using raw input",
			"echo_cancellation", cfg.Processing.EchoCancellation,
			"noise_suppression", cfg.Processing.NoiseSuppression,
			"auto_gain_control", cfg.Processing.AutoGainControl,
		)
	}
	return m, nil
}

func selectMalgoDevice(actx *malgo.AllocatedContext, devCfg *malgo.DeviceConfig, name string) error {
	infos, err := actx.Devices(malgo.Capture)
	if err != nil {
		return deviceError("malgo", err)
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	idx, err := pickDevice(names, name)
	if err != nil {
		return err
	}
	devCfg.Capture.DeviceID = infos[idx].ID.Pointer()
	return nil
}

// onData runs on the audio thread. It must not block or log.
func (m *MalgoCapture) onData(_, input []byte, frameCount uint32) {
	framer := m.framer.Load()
	if framer == nil {
		return
	}
	n := int(frameCount) * m.cfg.Channels
	if n*4 > len(input) {
		n = len(input) / 4
	}
	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	samples := m.scratch[:n]
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	framer.Write(samples)
}

// Start begins capture.
func (m *MalgoCapture) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.disp = newDispatcher(m.cfg.QueueSize)
	m.disp.setCallback(m.onFrame)
	disp := m.disp
	m.framer.Store(NewFramer(m.cfg.BufferSize, m.rate, func(f Frame) { disp.push(f) }))
	m.disp.start()

	if err := m.device.Start(); err != nil {
		m.disp.stop()
		m.framer.Store(nil)
		return deviceError("malgo", err)
	}
	m.running = true

	m.logger.Info("microphone capture started",
		"backend", m.Name(),
		"sample_rate", m.rate,
		"buffer_size", m.cfg.BufferSize,
	)
	return nil
}

// OnFrame sets the frame callback.
func (m *MalgoCapture) OnFrame(fn func(Frame)) {
	m.mu.Lock()
	m.onFrame = fn
	if m.disp != nil {
		m.disp.setCallback(fn)
	}
	m.mu.Unlock()
}

// Stop halts capture and releases the device and context.
func (m *MalgoCapture) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var stopErr error
	if m.running {
		if err := m.device.Stop(); err != nil {
			stopErr = fmt.Errorf("stop device: %w", err)
		}
		m.running = false
	}
	m.device.Uninit()
	if m.disp != nil {
		m.disp.stop()
	}
	m.framer.Store(nil)
	if err := m.ctx.Uninit(); err != nil && stopErr == nil {
		stopErr = fmt.Errorf("uninit context: %w", err)
	}
	m.ctx.Free()

	m.logger.Info("microphone capture stopped", "backend", m.Name())
	return stopErr
}

// SampleRate returns the device's actual sample rate.
func (m *MalgoCapture) SampleRate() float64 {
	return m.rate
}

// Name returns "malgo".
func (m *MalgoCapture) Name() string {
	return "malgo"
}

// Stats returns capture statistics.
func (m *MalgoCapture) Stats() SourceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := SourceStats{Running: m.running, Backend: m.Name()}
	if m.disp != nil {
		s.FramesCaptured = m.disp.delivered.Load()
		s.Overruns = m.disp.overruns.Load()
	}
	return s
}

var _ SessionWithStats = (*MalgoCapture)(nil)
