package player

import "flvwatch/pkg/core"

// SessionID identifies one playback session.
type SessionID string

// EventKind is the closed set of lifecycle signals a session raises.
type EventKind int

const (
	// EventError reports a fatal or recoverable engine failure, including start failures.
	EventError EventKind = iota
	// EventLoadComplete reports that the initial handshake and buffering succeeded.
	EventLoadComplete
	// EventStreamEnd reports that the upstream closed the stream.
	EventStreamEnd
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventLoadComplete:
		return "load_complete"
	case EventStreamEnd:
		return "stream_end"
	default:
		return "unknown"
	}
}

// Event is a lifecycle signal raised by the session with the given id.
type Event struct {
	Kind    EventKind
	Session SessionID

	// ErrorKind, Detail and Err are set for EventError.
	ErrorKind core.ErrorKind
	Detail    string
	Err       error
}

// Sink receives lifecycle events. It must not block.
type Sink func(Event)
