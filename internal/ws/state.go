package ws

import "sync/atomic"

// ConnState is the lifecycle state of a websocket client.
type ConnState int32

const (
	// StateDisconnected indicates no connection and no reconnect in progress.
	StateDisconnected ConnState = iota
	// StateConnecting indicates a dial or handshake is in flight.
	StateConnecting
	// StateConnected indicates the read loop is running.
	StateConnected
	// StateReconnecting indicates the client is waiting out a backoff before dialing again.
	StateReconnecting
	// StateClosed indicates Close was called. It is terminal.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State holds a ConnState that may be read and swapped from any goroutine.
type State struct {
	v atomic.Int32
}

func (s *State) Load() ConnState {
	return ConnState(s.v.Load())
}

func (s *State) Store(state ConnState) {
	s.v.Store(int32(state))
}

// CompareAndSwap swaps to next if the current state is one of from.
func (s *State) CompareAndSwap(next ConnState, from ...ConnState) bool {
	for _, old := range from {
		if s.v.CompareAndSwap(int32(old), int32(next)) {
			return true
		}
	}
	return false
}
