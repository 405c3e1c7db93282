package player

import (
	"flvwatch/internal/flv"
	"flvwatch/pkg/core"
)

// Surface presents the tags of the playing session. It is owned by the caller; the
// player only references it.
type Surface interface {
	Render(tag flv.Tag) error
}

// SessionAware is implemented by surfaces that want to know when a new session is
// about to be attached, for instance to rebase timestamps.
type SessionAware interface {
	BeginSession(id SessionID)
}

// Handlers are the engine callbacks. They may be invoked from any goroutine, but never
// after Destroy returned.
type Handlers struct {
	OnError        func(kind core.ErrorKind, detail string, err error)
	OnLoadComplete func()
	OnStreamEnd    func()
}

// Engine is one streaming engine instance.
type Engine interface {
	// On registers the callbacks. It is called before Attach.
	On(handlers Handlers)
	// Attach binds the engine to a surface.
	Attach(surface Surface) error
	// Load starts fetching the stream. It does not block on the network.
	Load() error
	// Play starts presenting tags on the surface.
	Play() error
	// Destroy stops the engine and releases its resources.
	Destroy() error
}

// EngineFactory constructs an engine for the session configuration.
type EngineFactory func(config core.SessionConfig) (Engine, error)
