package connection

// State is the connection lifecycle state. Exactly one value is held at a
// time and transitions are the only way to change it.
type State int

// Connection lifecycle states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is a read-only snapshot of the connection manager's state. The
// manager is its single writer; consumers receive copies.
//
// Invariant: State == StateConnected exactly when ConnectionID is non-empty
// and LastError is nil.
type Session struct {
	State             State
	ConnectionID      string
	ReconnectAttempts int
	LastError         error
}
