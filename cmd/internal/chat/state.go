package chat

// ConnState is the chat socket lifecycle state.
type ConnState uint8

const (
	// StateIdle: no transport, nothing pending. Initial state, and the state
	// after an explicit close or room switch.
	StateIdle ConnState = iota

	// StateConnecting: a dial is in flight.
	StateConnecting

	// StateOpen: transport established, frames flow.
	StateOpen

	// StateClosed: transport lost, a retry is scheduled.
	StateClosed

	// StateFailed: retry budget exhausted. Terminal until the caller opens
	// the room again.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
