//go:build !cgo

package audioio

import (
	"fmt"
	"log/slog"
)

const nativeAudio = false

func newMalgoCapture(_ Config, _ *slog.Logger) (CaptureSession, error) {
	return nil, fmt.Errorf("%w: %w: malgo requires cgo", ErrDeviceUnavailable, ErrNotAvailable)
}

func newPortAudioCapture(_ Config, _ *slog.Logger) (CaptureSession, error) {
	return nil, fmt.Errorf("%w: %w: portaudio requires cgo", ErrDeviceUnavailable, ErrNotAvailable)
}
