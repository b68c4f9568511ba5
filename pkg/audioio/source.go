package audioio

import (
	"context"
	"time"
)

// Frame is one fixed-size block of mono float samples at the device rate.
// Frames are handed to exactly one consumer and must not be retained past
// one streaming cycle.
type Frame struct {
	// Samples contains float samples in [-1, 1].
	Samples []float32

	// SampleRate is the rate the device actually captured at.
	SampleRate float64

	// Seq is the capture order of this frame, starting at 0.
	Seq uint64
}

// Duration returns the duration of this frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(f.Samples)) / f.SampleRate * float64(time.Second))
}

// CaptureSession acquires a microphone and delivers fixed-size frames.
// Implementations are interchangeable; callers never branch on the backend.
type CaptureSession interface {
	// Start acquires the device and begins delivering frames to the
	// callback set with OnFrame.
	Start(ctx context.Context) error

	// OnFrame sets the frame callback. It is called from a single
	// goroutine, in capture order, never from the audio thread.
	OnFrame(fn func(Frame))

	// Stop releases the device. It is safe to call Stop multiple times.
	Stop() error

	// SampleRate returns the device's actual rate once started.
	SampleRate() float64

	// Name returns the backend name (e.g., "malgo", "portaudio", "mock").
	Name() string
}

// SourceStats contains statistics about a capture session.
type SourceStats struct {
	// FramesCaptured is the total number of frames delivered to OnFrame.
	FramesCaptured int64 `json:"frames_captured"`

	// Overruns is the number of frames dropped because the dispatcher
	// fell behind the audio thread.
	Overruns int64 `json:"overruns"`

	// Running indicates if the session is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`

	// Err is the error that ended capture, if any.
	Err string `json:"error,omitempty"`
}

// SessionWithStats extends CaptureSession with statistics.
type SessionWithStats interface {
	CaptureSession
	Stats() SourceStats
}
