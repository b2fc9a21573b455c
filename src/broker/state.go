package broker

import "sync/atomic"

// State is one step of the BrokerSession connection state machine
// (SPEC_FULL §4.2).
type State int32

const (
	StateConnecting State = iota
	StateSubscribing
	StateConnected
	StateDisconnected
	StateBackingOff
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateSubscribing:
		return "Subscribing"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateBackingOff:
		return "BackingOff"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// stateBox is a lock-free holder for the session's current state, readable
// concurrently by status reporting while the session goroutine drives
// transitions.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) set(s State) {
	b.v.Store(int32(s))
}

func (b *stateBox) get() State {
	return State(b.v.Load())
}
