package core

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of a playback engine error.
type ErrorKind int

// Error kinds reported by streaming engines.
const (
	// ErrorKindOther indicates an unclassified engine failure.
	ErrorKindOther ErrorKind = iota
	// ErrorKindNetwork indicates the stream could not be fetched or was cut off.
	ErrorKindNetwork
	// ErrorKindMedia indicates the stream bytes could not be demuxed or rendered.
	ErrorKindMedia
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNetwork:
		return "NETWORK_ERROR"
	case ErrorKindMedia:
		return "MEDIA_ERROR"
	default:
		return "OTHER_ERROR"
	}
}

// Sentinel errors for common playback conditions.
var (
	// ErrEngineDestroyed is returned when an engine is used after Destroy.
	ErrEngineDestroyed = errors.New("engine is destroyed")
	// ErrNotAttached is returned when loading an engine that has no surface.
	ErrNotAttached = errors.New("engine has no surface attached")
	// ErrNotLoaded is returned when playing an engine that was never loaded.
	ErrNotLoaded = errors.New("engine is not loaded")
	// ErrUnsupportedType is returned for a session type no engine can play.
	ErrUnsupportedType = errors.New("unsupported stream type")
	// ErrInvalidHeader is returned when the stream does not start with a valid container header.
	ErrInvalidHeader = errors.New("invalid stream header")
	// ErrStalled is returned when the stream stopped delivering data.
	ErrStalled = errors.New("stream stalled")
	// ErrThrottled is returned when an operator command exceeds its rate limit.
	ErrThrottled = errors.New("command throttled")
	// ErrControllerStopped is returned when querying a controller whose loop has exited.
	ErrControllerStopped = errors.New("controller is stopped")
)

// PlaybackError is a structured engine failure.
type PlaybackError struct {
	// Kind categorizes the failure.
	Kind ErrorKind `json:"kind"`
	// Detail is a short machine-friendly description such as "HttpStatusCodeInvalid".
	Detail string `json:"detail"`
	// StatusCode is the HTTP status of the stream response, if any.
	StatusCode int `json:"status_code,omitempty"`
	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error returns the kind, detail, status code and cause.
func (e *PlaybackError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// NewPlaybackError creates a PlaybackError of the given kind wrapping err.
func NewPlaybackError(kind ErrorKind, detail string, err error) *PlaybackError {
	return &PlaybackError{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the ErrorKind carried by err, or ErrorKindOther.
func KindOf(err error) ErrorKind {
	var pe *PlaybackError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindOther
}

// IsNetworkError returns true if err is a network failure.
// Network failures are the common case for a dropped live stream.
func IsNetworkError(err error) bool {
	return err != nil && KindOf(err) == ErrorKindNetwork
}

// IsMediaError returns true if err is a demux or render failure.
func IsMediaError(err error) bool {
	return err != nil && KindOf(err) == ErrorKindMedia
}
