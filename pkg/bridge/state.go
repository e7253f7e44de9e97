package bridge

// State is the lifecycle state of the provider process
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	// StateDegraded means the process exited; the next call may restart it.
	StateDegraded
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
