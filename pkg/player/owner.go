package player

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flvwatch/pkg/core"
)

// Observer receives owner-level instrumentation.
type Observer interface {
	EngineError(kind string)
	TeardownFailed()
}

type nopObserver struct{}

func (nopObserver) EngineError(string) {}
func (nopObserver) TeardownFailed()    {}

// Owner creates, wires and destroys the single playback session of a fixed session
// configuration on a caller-supplied surface. At most one session exists at a time:
// the previous one is destroyed before a new one is constructed.
//
// Create and Destroy are meant to be driven by one caller. Engine callbacks may arrive
// on any goroutine; the owner forwards those of the current session to its sink and
// drops the rest.
type Owner struct {
	config   core.SessionConfig
	surface  Surface
	factory  EngineFactory
	logger   zerolog.Logger
	observer Observer

	mu      sync.Mutex
	current *session
	sink    Sink
}

type session struct {
	id     SessionID
	engine Engine
	state  atomicState
}

// OwnerOption configures an Owner.
type OwnerOption func(*Owner)

// WithLogger sets the owner's logger.
func WithLogger(logger zerolog.Logger) OwnerOption {
	return func(o *Owner) {
		o.logger = logger
	}
}

// WithObserver sets the owner's instrumentation sink.
func WithObserver(observer Observer) OwnerOption {
	return func(o *Owner) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// NewOwner returns an Owner for config playing on surface, building engines with factory.
func NewOwner(config core.SessionConfig, surface Surface, factory EngineFactory, opts ...OwnerOption) *Owner {
	o := &Owner{
		config:   config,
		surface:  surface,
		factory:  factory,
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Notify registers the sink lifecycle events are delivered to.
func (o *Owner) Notify(sink Sink) {
	o.mu.Lock()
	o.sink = sink
	o.mu.Unlock()
}

// Current returns the id and state of the current session, or an empty id.
func (o *Owner) Current() (SessionID, State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return "", StateUninitialized
	}
	return o.current.id, o.current.state.Load()
}

// Create destroys the current session, if any, and starts a new one. It never fails:
// a session that cannot be started raises EventError instead.
func (o *Owner) Create() SessionID {
	o.mu.Lock()
	prev := o.current
	o.current = nil
	o.mu.Unlock()
	o.teardown(prev)

	s := &session{id: SessionID(uuid.NewString())}
	s.state.advance(StateStarting)

	o.mu.Lock()
	o.current = s
	o.mu.Unlock()

	if aware, ok := o.surface.(SessionAware); ok {
		aware.BeginSession(s.id)
	}

	if err := o.start(s); err != nil {
		s.state.advance(StateErrored)
		o.observer.EngineError(core.KindOf(err).String())
		o.logger.Warn().Err(err).Str("session", string(s.id)).Msg("error starting player")
		o.raise(s.id, Event{
			Kind:      EventError,
			ErrorKind: core.KindOf(err),
			Detail:    "StartFailed",
			Err:       err,
		})
		return s.id
	}

	s.state.advance(StatePlaying)
	o.logger.Info().
		Str("session", string(s.id)).
		Str("url", o.config.URL).
		Msg("player created")
	return s.id
}

// Destroy releases the current session. Teardown failures are logged and suppressed.
func (o *Owner) Destroy() {
	o.mu.Lock()
	prev := o.current
	o.current = nil
	o.mu.Unlock()
	o.teardown(prev)
}

func (o *Owner) start(s *session) error {
	var engine Engine
	err := safely("construct", func() error {
		var err error
		engine, err = o.factory(o.config)
		return err
	})
	if err != nil {
		return err
	}
	if engine == nil {
		return fmt.Errorf("construct: %w", core.ErrUnsupportedType)
	}
	s.engine = engine

	handlers := o.handlers(s)
	if err := safely("register", func() error { engine.On(handlers); return nil }); err != nil {
		return err
	}
	if err := safely("attach", func() error { return engine.Attach(o.surface) }); err != nil {
		return err
	}
	if err := safely("load", engine.Load); err != nil {
		return err
	}
	return safely("play", engine.Play)
}

func (o *Owner) handlers(s *session) Handlers {
	return Handlers{
		OnError: func(kind core.ErrorKind, detail string, err error) {
			s.state.advance(StateErrored)
			o.observer.EngineError(kind.String())
			o.logger.Warn().
				Err(err).
				Str("session", string(s.id)).
				Str("type", kind.String()).
				Str("detail", detail).
				Msg("player error")
			o.raise(s.id, Event{Kind: EventError, ErrorKind: kind, Detail: detail, Err: err})
		},
		OnLoadComplete: func() {
			o.logger.Info().Str("session", string(s.id)).Msg("stream loading complete")
			o.raise(s.id, Event{Kind: EventLoadComplete})
		},
		OnStreamEnd: func() {
			s.state.advance(StateEnded)
			o.logger.Info().Str("session", string(s.id)).Msg("stream ended")
			o.raise(s.id, Event{Kind: EventStreamEnd})
		},
	}
}

func (o *Owner) raise(id SessionID, ev Event) {
	o.mu.Lock()
	current := o.current != nil && o.current.id == id
	sink := o.sink
	o.mu.Unlock()

	if !current {
		o.logger.Debug().
			Str("session", string(id)).
			Str("event", ev.Kind.String()).
			Msg("dropping event from stale session")
		return
	}
	if sink == nil {
		return
	}
	ev.Session = id
	sink(ev)
}

func (o *Owner) teardown(s *session) {
	if s == nil || s.engine == nil {
		return
	}
	if err := safely("destroy", s.engine.Destroy); err != nil {
		o.observer.TeardownFailed()
		o.logger.Warn().Err(err).Str("session", string(s.id)).Msg("error destroying old player")
		return
	}
	o.logger.Debug().Str("session", string(s.id)).Msg("player destroyed")
}

// safely runs fn, converting a panic into an error.
func safely(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", op, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
