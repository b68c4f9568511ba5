package voice

import (
	"log/slog"
	"sync"
)

// State is the assistant's position in the connection lifecycle.
type State int

const (
	// StateIdle is the state before the first Connect.
	StateIdle State = iota
	// StateConnecting indicates the transport is being established.
	StateConnecting
	// StateConnected indicates the service acknowledged the connection.
	StateConnected
	// StateSessionStarting indicates a start message awaits acknowledgment.
	StateSessionStarting
	// StateSessionActive indicates an acknowledged session that is not recording.
	StateSessionActive
	// StateRecording indicates captured frames are being streamed.
	StateRecording
	// StatePaused indicates an active session whose frames are discarded.
	StatePaused
	// StateDisconnected indicates the connection ended.
	StateDisconnected
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionStarting:
		return "session_starting"
	case StateSessionActive:
		return "session_active"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// inSession reports whether s is SessionActive or one of its sub-states.
func (s State) inSession() bool {
	return s == StateSessionActive || s == StateRecording || s == StatePaused
}

// ConnectionStatus is an immutable snapshot of the assistant status.
// The flags are derived from State, so they can never contradict it.
type ConnectionStatus struct {
	State         State  `json:"state"`
	IsConnected   bool   `json:"isConnected"`
	IsConnecting  bool   `json:"isConnecting"`
	IsRecording   bool   `json:"isRecording"`
	SessionActive bool   `json:"sessionActive"`
	Error         string `json:"error,omitempty"`
}

func newStatus(s State, errMsg string) ConnectionStatus {
	return ConnectionStatus{
		State:         s,
		IsConnecting:  s == StateConnecting,
		IsConnected:   s >= StateConnected && s <= StatePaused,
		SessionActive: s.inSession(),
		IsRecording:   s == StateRecording,
		Error:         errMsg,
	}
}

// StateMachine owns the ConnectionStatus. Every transition replaces the
// status wholesale and notifies the observer synchronously once the new
// value is committed. The observer runs outside the lock; it may read
// the status but must not trigger transitions from inside the callback.
type StateMachine struct {
	mu       sync.Mutex
	status   ConnectionStatus
	observer func(ConnectionStatus)
	logger   *slog.Logger
}

// NewStateMachine creates a state machine in StateIdle.
func NewStateMachine(logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{
		status: newStatus(StateIdle, ""),
		logger: logger,
	}
}

// Status returns the current status.
func (m *StateMachine) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnChange sets the single observer, replacing any previous one.
func (m *StateMachine) OnChange(fn func(ConnectionStatus)) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// transition applies fn to the current status. fn returns the next status
// and whether anything changed; unchanged statuses are not broadcast.
func (m *StateMachine) transition(fn func(cur ConnectionStatus) (ConnectionStatus, bool)) ConnectionStatus {
	m.mu.Lock()
	next, changed := fn(m.status)
	if !changed {
		cur := m.status
		m.mu.Unlock()
		return cur
	}
	prev := m.status
	m.status = next
	observer := m.observer
	m.mu.Unlock()

	if prev.State != next.State {
		m.logger.Debug("state transition", "from", prev.State, "to", next.State)
	}
	if observer != nil {
		observer(next)
	}
	return next
}

func (m *StateMachine) to(s State, errMsg string) func(ConnectionStatus) (ConnectionStatus, bool) {
	return func(cur ConnectionStatus) (ConnectionStatus, bool) {
		next := newStatus(s, errMsg)
		return next, next != cur
	}
}

// BeginConnect moves Idle or Disconnected to Connecting, clearing the error.
func (m *StateMachine) BeginConnect() error {
	var err error
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		if cur.State != StateIdle && cur.State != StateDisconnected {
			err = ErrAlreadyConnected
			return cur, false
		}
		return newStatus(StateConnecting, ""), true
	})
	return err
}

// Connected records the service's connection acknowledgment.
// It reports false when the machine was not Connecting.
func (m *StateMachine) Connected() bool {
	ok := false
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		if cur.State != StateConnecting {
			return cur, false
		}
		ok = true
		return newStatus(StateConnected, ""), true
	})
	return ok
}

// BeginSession moves Connected to SessionStarting. Before a connection
// exists only the error field changes.
func (m *StateMachine) BeginSession() error {
	var err error
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		switch {
		case cur.State == StateConnected:
			return newStatus(StateSessionStarting, cur.Error), true
		case cur.State == StateSessionStarting || cur.State.inSession():
			err = ErrSessionActive
			return cur, false
		default:
			err = ErrNotConnected
			return m.to(cur.State, "Not connected to voice service")(cur)
		}
	})
	return err
}

// SessionStartFailed returns SessionStarting to Connected with errMsg set.
func (m *StateMachine) SessionStartFailed(errMsg string) {
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		if cur.State != StateSessionStarting {
			return m.to(cur.State, errMsg)(cur)
		}
		return newStatus(StateConnected, errMsg), true
	})
}

// SessionStarted records the service's session acknowledgment and reports
// whether the machine just entered SessionActive.
func (m *StateMachine) SessionStarted() bool {
	entered := false
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		if cur.State != StateSessionStarting && cur.State != StateConnected {
			return cur, false
		}
		entered = true
		return newStatus(StateSessionActive, cur.Error), true
	})
	return entered
}

// StartRecording moves SessionActive to Recording. It is a no-op when
// already recording.
func (m *StateMachine) StartRecording() error {
	var err error
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		switch cur.State {
		case StateSessionActive:
			return newStatus(StateRecording, cur.Error), true
		case StateRecording:
			return cur, false
		case StatePaused:
			err = ErrNotRecording
			return cur, false
		default:
			err = ErrNoSession
			return cur, false
		}
	})
	return err
}

// Pause moves Recording to Paused.
func (m *StateMachine) Pause() error {
	var err error
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		switch cur.State {
		case StateRecording:
			return newStatus(StatePaused, cur.Error), true
		case StatePaused:
			return cur, false
		default:
			err = ErrNotRecording
			return cur, false
		}
	})
	return err
}

// Resume moves Paused back to Recording.
func (m *StateMachine) Resume() error {
	var err error
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		switch cur.State {
		case StatePaused:
			return newStatus(StateRecording, cur.Error), true
		case StateRecording:
			return cur, false
		default:
			err = ErrNotRecording
			return cur, false
		}
	})
	return err
}

// SessionStopped clears sessionActive and isRecording, returning to
// Connected. It is a no-op outside a session.
func (m *StateMachine) SessionStopped() {
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		if cur.State != StateSessionStarting && !cur.State.inSession() {
			return cur, false
		}
		return newStatus(StateConnected, cur.Error), true
	})
}

// Disconnected forces Disconnected from any state, clearing every activity
// flag and preserving the last error.
func (m *StateMachine) Disconnected() {
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		return m.to(StateDisconnected, cur.Error)(cur)
	})
}

// SetError updates the error field without changing state.
func (m *StateMachine) SetError(errMsg string) {
	m.transition(func(cur ConnectionStatus) (ConnectionStatus, bool) {
		return m.to(cur.State, errMsg)(cur)
	})
}
