package voice

import (
	"errors"
	"fmt"
)

// Sentinel errors for the voice package.
var (
	// ErrAuthRequired indicates no anonymous token was available.
	ErrAuthRequired = errors.New("voice: authentication token required")

	// ErrNotConnected indicates the assistant is not connected.
	ErrNotConnected = errors.New("voice: not connected to voice service")

	// ErrAlreadyConnected indicates Connect was called while a connection
	// exists or is being established.
	ErrAlreadyConnected = errors.New("voice: already connected")

	// ErrSessionActive indicates a session is already starting or active.
	ErrSessionActive = errors.New("voice: session already active")

	// ErrNoSession indicates the operation needs an active session.
	ErrNoSession = errors.New("voice: no active session")

	// ErrNotRecording indicates Pause/Resume was called outside recording.
	ErrNotRecording = errors.New("voice: not recording")

	// ErrDuplicateTool indicates two tools share an event name.
	ErrDuplicateTool = errors.New("voice: duplicate tool registration")

	// ErrReservedEvent indicates a tool uses an event name owned by the transport.
	ErrReservedEvent = errors.New("voice: event name is reserved")

	// ErrInvalidTool indicates a registration without a name or handler.
	ErrInvalidTool = errors.New("voice: invalid tool registration")

	// ErrFrameDropped indicates an audio frame was dropped because the
	// outbound queue was full.
	ErrFrameDropped = errors.New("voice: audio frame dropped")
)

// ignoredErrorCodes are backend error codes that never surface.
var ignoredErrorCodes = map[string]struct{}{
	"conversation_already_has_active_response": {},
}

// BackendError is an error event reported by the voice service.
type BackendError struct {
	// Code is the machine-readable error code, possibly empty.
	Code string

	// Message is the human-readable error message.
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("voice: backend error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("voice: backend error: %s", e.Message)
}

// IsIgnored reports whether the code is filtered from the status.
func (e *BackendError) IsIgnored() bool {
	_, ok := ignoredErrorCodes[e.Code]
	return ok
}

// NewBackendError creates a new BackendError.
func NewBackendError(code, message string) *BackendError {
	if message == "" {
		message = "Voice session error"
	}
	return &BackendError{Code: code, Message: message}
}

// TransportError represents a socket-level connect or emit failure.
type TransportError struct {
	// Op is the operation that failed ("connect", "emit start", ...).
	Op string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if a fresh Connect may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("voice: transport error: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("voice: transport error: %s", e.Op)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if reconnection should be attempted.
func (e *TransportError) IsRetryable() bool {
	return e.Retryable
}

// NewTransportError creates a new TransportError.
func NewTransportError(op string, cause error, retryable bool) *TransportError {
	return &TransportError{Op: op, Cause: cause, Retryable: retryable}
}

// AudioProcessingError reports a frame that could not be resampled or
// encoded. The session continues with the next frame.
type AudioProcessingError struct {
	// Seq is the capture sequence number of the failed frame.
	Seq uint64

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *AudioProcessingError) Error() string {
	return fmt.Sprintf("voice: failed to process audio frame %d: %v", e.Seq, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *AudioProcessingError) Unwrap() error {
	return e.Cause
}

// Error checking helpers.

// IsIgnoredBackendError returns true for backend errors that never surface.
func IsIgnoredBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.IsIgnored()
}

// IsRetryable returns true if the error can be retried with a fresh Connect.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.IsRetryable()
	}
	return false
}
