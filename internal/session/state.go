package session

// State is the lifecycle state of a [Session].
//
//	idle → starting → open → active ⇄ paused → ending → closed
//
// Any non-terminal state can move to StateError.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateOpen
	StateActive
	StatePaused
	StateEnding
	StateClosed
	StateError
)

// String returns the lower-case state name used in logs and on the gateway.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// running reports whether a live connection is (or is about to be) in use.
func (s State) running() bool {
	switch s {
	case StateStarting, StateOpen, StateActive, StatePaused:
		return true
	default:
		return false
	}
}
