package socketio

import (
	"errors"
	"fmt"
)

// Sentinel errors for socketio operations.
var (
	// ErrNotConnected is returned when emitting before Connect succeeds.
	ErrNotConnected = errors.New("socketio: not connected")

	// ErrClosed is returned when using a client after it has been closed.
	ErrClosed = errors.New("socketio: client closed")

	// ErrQueueFull is returned when the outbound queue cannot take another
	// message. The message is not sent.
	ErrQueueFull = errors.New("socketio: send queue full")

	// ErrMalformedPacket is returned for packets that do not parse.
	ErrMalformedPacket = errors.New("socketio: malformed packet")

	// ErrHandshake is returned when the Engine.IO open packet is missing
	// or invalid.
	ErrHandshake = errors.New("socketio: handshake failed")
)

// ConnectError is returned when the server refuses the namespace
// connection with a CONNECT_ERROR packet.
type ConnectError struct {
	Namespace string
	Message   string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("socketio: connect to %s refused: %s", e.Namespace, e.Message)
}

// Disconnect reasons reported to OnDisconnect, matching the reference
// Socket.IO client.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)
