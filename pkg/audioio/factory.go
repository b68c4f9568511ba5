package audioio

import (
	"errors"
	"fmt"
	"log/slog"
)

// Factory creates a capture session. It is the seam used by callers that
// need to substitute a mock device in tests.
type Factory func(cfg Config, logger *slog.Logger) (CaptureSession, error)

// NewCaptureSession creates a capture session with the given configuration.
// With BackendAuto the callback backend is tried first and, if it cannot be
// initialised, the blocking backend is used. The choice is made here once;
// both backends deliver frames of exactly cfg.BufferSize samples.
func NewCaptureSession(cfg Config, logger *slog.Logger) (CaptureSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "capture")

	logger.Info("creating capture session",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"buffer_size", cfg.BufferSize,
	)

	switch cfg.Backend {
	case BackendMock:
		return NewMockCapture(cfg, logger), nil
	case BackendCallback:
		return newMalgoCapture(cfg, logger)
	case BackendBlocking:
		return newPortAudioCapture(cfg, logger)
	case BackendAuto, "":
		s, err := newMalgoCapture(cfg, logger)
		if err == nil {
			return s, nil
		}
		logger.Warn("callback capture unavailable, falling back to blocking reads", "error", err)

		fallback, ferr := newPortAudioCapture(cfg, logger)
		if ferr != nil {
			return nil, preferPermission(err, ferr)
		}
		return fallback, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// preferPermission reports a permission failure from either backend ahead
// of a plain availability failure.
func preferPermission(primary, fallback error) error {
	switch {
	case errors.Is(primary, ErrPermissionDenied):
		return primary
	case errors.Is(fallback, ErrPermissionDenied):
		return fallback
	default:
		return errors.Join(primary, fallback)
	}
}

// AvailableBackends returns the backends compiled into this binary.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if nativeAudio {
		backends = append(backends, BackendCallback, BackendBlocking)
	}
	return backends
}
