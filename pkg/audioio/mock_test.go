package audioio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockCapture_StartStop(t *testing.T) {
	src := NewMockCapture(DefaultConfig(), nil)

	ctx := context.Background()

	// Start should succeed
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Starting again should be a no-op
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	// Stop should succeed
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stopping again should be a no-op
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}

	if err := src.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Stop, got %v", err)
	}
}

func TestMockCapture_Emit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 256

	src := NewMockCapture(cfg, nil, WithDeviceRate(48000))
	defer src.Stop()

	var frames []Frame
	src.OnFrame(func(f Frame) { frames = append(frames, f) })

	// Emit before Start is dropped.
	src.Emit(make([]float32, 256))

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.Emit(make([]float32, 600))

	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if len(f.Samples) != cfg.BufferSize {
			t.Errorf("Expected %d samples, got %d", cfg.BufferSize, len(f.Samples))
		}
		if f.SampleRate != 48000 {
			t.Errorf("Expected device rate 48000, got %v", f.SampleRate)
		}
	}
	if src.Stats().FramesCaptured != 2 {
		t.Errorf("Expected 2 frames in stats, got %d", src.Stats().FramesCaptured)
	}
}

func TestMockCapture_SineGenerator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 240 // 10ms at 24kHz

	src := NewMockCapture(cfg, nil, WithSineWave(440, 0.5))
	defer src.Stop()

	got := make(chan Frame, 8)
	src.OnFrame(func(f Frame) {
		select {
		case got <- f:
		default:
		}
	})

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case f := <-got:
		if rms := RMS(f.Samples); rms < 0.3 || rms > 0.4 {
			t.Errorf("Expected RMS ~0.35 for a 0.5 sine, got %f", rms)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for a generated frame")
	}
}

func TestMockCapture_StartError(t *testing.T) {
	src := NewMockCapture(DefaultConfig(), nil, WithStartError(ErrPermissionDenied))

	err := src.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	if src.Running() {
		t.Error("Expected mock not to be running")
	}
}
