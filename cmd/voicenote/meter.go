package main

import (
	"log/slog"
	"math"
	"strings"
	"sync/atomic"

	"github.com/teslashibe/voicenote/pkg/audioio"
)

// levelMeter tracks the RMS level of the most recent captured frame.
type levelMeter struct {
	bits atomic.Uint64
}

func (m *levelMeter) set(v float64) { m.bits.Store(math.Float64bits(v)) }

func (m *levelMeter) get() float64 { return math.Float64frombits(m.bits.Load()) }

// bar renders the level as a fixed-width bar.
func (m *levelMeter) bar(width int) string {
	db := 20 * math.Log10(math.Max(m.get(), 1e-5))
	filled := int(math.Round((db + 60) / 60 * float64(width)))
	filled = max(0, min(width, filled))
	return strings.Repeat("█", filled) + strings.Repeat("·", width-filled)
}

// factory wraps f so every opened session reports frame levels to m.
func (m *levelMeter) factory(f audioio.Factory) audioio.Factory {
	return func(cfg audioio.Config, logger *slog.Logger) (audioio.CaptureSession, error) {
		cs, err := f(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &meteredCapture{CaptureSession: cs, meter: m}, nil
	}
}

type meteredCapture struct {
	audioio.CaptureSession
	meter *levelMeter
}

func (c *meteredCapture) OnFrame(fn func(audioio.Frame)) {
	c.CaptureSession.OnFrame(func(f audioio.Frame) {
		c.meter.set(audioio.RMS(f.Samples))
		fn(f)
	})
}

func (c *meteredCapture) Stats() audioio.SourceStats {
	if ws, ok := c.CaptureSession.(audioio.SessionWithStats); ok {
		return ws.Stats()
	}
	return audioio.SourceStats{}
}
