//go:build !cgo

package audioio

import (
	"errors"
	"testing"
)

func TestNewCaptureSession_NoCgo(t *testing.T) {
	for _, backend := range []Backend{BackendAuto, BackendCallback, BackendBlocking} {
		t.Run(string(backend), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Backend = backend

			_, err := NewCaptureSession(cfg, nil)
			if !errors.Is(err, ErrDeviceUnavailable) {
				t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
			}
			if !errors.Is(err, ErrNotAvailable) {
				t.Errorf("Expected ErrNotAvailable, got %v", err)
			}
		})
	}
}
