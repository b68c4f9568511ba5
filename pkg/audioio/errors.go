package audioio

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for capture and conversion.
var (
	// ErrInvalidRate is returned when a sample rate is not a positive finite number.
	ErrInvalidRate = errors.New("audioio: invalid sample rate")

	// ErrDeviceUnavailable is returned when no capture device can be opened.
	ErrDeviceUnavailable = errors.New("audioio: audio device unavailable")

	// ErrPermissionDenied is returned when the platform refuses microphone access.
	ErrPermissionDenied = errors.New("audioio: microphone permission denied")

	// ErrAudioProcessing is returned when a captured frame cannot be converted.
	ErrAudioProcessing = errors.New("audioio: audio processing failed")

	// ErrClosed is returned when using a session or player after Stop/Close.
	ErrClosed = errors.New("audioio: closed")

	// ErrNotAvailable is returned by backends compiled without cgo.
	ErrNotAvailable = errors.New("audioio: backend not available in this build")
)

// deviceError classifies a backend failure as a permission or availability
// problem so callers can match it with errors.Is.
func deviceError(backend string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not authorized") {
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, backend, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, backend, err)
}
