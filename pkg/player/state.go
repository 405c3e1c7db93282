package player

import "sync/atomic"

// State is the lifecycle state of one playback session.
type State int32

const (
	// StateUninitialized indicates the session has not been started.
	StateUninitialized State = iota
	// StateStarting indicates the engine is being constructed, attached and loaded.
	StateStarting
	// StatePlaying indicates the engine accepted Play.
	StatePlaying
	// StateEnded indicates the upstream closed the stream. It is terminal.
	StateEnded
	// StateErrored indicates the engine failed. It is terminal.
	StateErrored
)

// String returns the string representation of the session state.
func (s State) String() string {
	return [...]string{
		"uninitialized",
		"starting",
		"playing",
		"ended",
		"errored",
	}[s]
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateErrored
}

type atomicState struct {
	v atomic.Int32
}

func (s *atomicState) Load() State {
	return State(s.v.Load())
}

// advance moves to next unless the current state is terminal.
func (s *atomicState) advance(next State) bool {
	for {
		cur := s.v.Load()
		if State(cur).Terminal() {
			return false
		}
		if s.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}
