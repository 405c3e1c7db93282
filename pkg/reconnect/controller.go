// Package reconnect keeps a playback session alive. The Controller watches the session
// owner's lifecycle events, schedules recreation with exponential backoff after failures,
// gives up after a bounded number of attempts and offers a manual, state-resetting
// reconnect.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"flvwatch/pkg/core"
	"flvwatch/pkg/player"
)

// Owner is the session owner driven by the controller.
type Owner interface {
	// Create replaces the current session with a new one and returns its id.
	Create() player.SessionID
	// Destroy releases the current session.
	Destroy()
	// Notify registers the sink receiving session lifecycle events.
	Notify(sink player.Sink)
}

// Observer receives controller instrumentation.
type Observer interface {
	ObserveState(attempts int, delay time.Duration)
	RetryScheduled(delay time.Duration)
	Exhausted()
	ManualReconnect()
	SessionCreated(trigger string)
	SessionEvent(kind string)
}

// NopObserver ignores every notification. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) ObserveState(int, time.Duration) {}
func (NopObserver) RetryScheduled(time.Duration)    {}
func (NopObserver) Exhausted()                      {}
func (NopObserver) ManualReconnect()                {}
func (NopObserver) SessionCreated(string)           {}
func (NopObserver) SessionEvent(string)             {}

type observers []Observer

func (o observers) ObserveState(attempts int, delay time.Duration) {
	for _, ob := range o {
		ob.ObserveState(attempts, delay)
	}
}

func (o observers) RetryScheduled(delay time.Duration) {
	for _, ob := range o {
		ob.RetryScheduled(delay)
	}
}

func (o observers) Exhausted() {
	for _, ob := range o {
		ob.Exhausted()
	}
}

func (o observers) ManualReconnect() {
	for _, ob := range o {
		ob.ManualReconnect()
	}
}

func (o observers) SessionCreated(trigger string) {
	for _, ob := range o {
		ob.SessionCreated(trigger)
	}
}

func (o observers) SessionEvent(kind string) {
	for _, ob := range o {
		ob.SessionEvent(kind)
	}
}

// Session creation triggers reported to the Observer.
const (
	TriggerInitial = "initial"
	TriggerRetry   = "retry"
	TriggerManual  = "manual"
)

type message interface{ isMessage() }

type eventMsg struct{ ev player.Event }
type retryMsg struct{ gen uint64 }
type manualMsg struct{}
type snapshotMsg struct{ reply chan Status }

func (eventMsg) isMessage()    {}
func (retryMsg) isMessage()    {}
func (manualMsg) isMessage()   {}
func (snapshotMsg) isMessage() {}

// Controller applies the failure policy to one session owner.
//
// All policy state is owned by the goroutine running Run. Dispatch, ManualReconnect and
// Snapshot only post messages to its mailbox, so they are safe to call from any goroutine,
// including from inside the owner while the loop is creating a session.
type Controller struct {
	owner     Owner
	config    core.ReconnectConfig
	scheduler Scheduler
	logger    zerolog.Logger
	observer  Observer
	observers observers

	mu      sync.Mutex
	queue   []message
	stopped bool
	wake    chan struct{}

	running atomic.Bool
	done    chan struct{}

	handlers map[player.EventKind]func(player.Event)

	// loop state
	attempts  int
	delay     time.Duration
	pending   Task
	gen       uint64
	exhausted bool
	session   player.SessionID
	counters  Counters
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithObserver adds an instrumentation sink. Every added observer receives every
// notification.
func WithObserver(observer Observer) Option {
	return func(c *Controller) {
		if observer != nil {
			c.observers = append(c.observers, observer)
		}
	}
}

// WithScheduler replaces the timer used for backoff delays.
func WithScheduler(scheduler Scheduler) Option {
	return func(c *Controller) {
		if scheduler != nil {
			c.scheduler = scheduler
		}
	}
}

// New returns a Controller for owner and registers it as the owner's event sink.
// It returns an error if the config is invalid.
func New(owner Owner, config core.ReconnectConfig, opts ...Option) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconnect config: %w", err)
	}

	c := &Controller{
		owner:     owner,
		config:    config,
		scheduler: SystemScheduler,
		logger:    zerolog.Nop(),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		delay:     config.BaseDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	switch len(c.observers) {
	case 0:
		c.observer = NopObserver{}
	case 1:
		c.observer = c.observers[0]
	default:
		c.observer = c.observers
	}

	c.handlers = map[player.EventKind]func(player.Event){
		player.EventError:        c.onError,
		player.EventLoadComplete: c.onLoadComplete,
		player.EventStreamEnd:    c.onStreamEnd,
	}

	owner.Notify(c.Dispatch)
	return c, nil
}

// Dispatch queues a session lifecycle event. It never blocks.
func (c *Controller) Dispatch(ev player.Event) {
	_ = c.post(eventMsg{ev: ev})
}

// ManualReconnect resets the backoff state and recreates the session immediately.
// It returns core.ErrControllerStopped once Run has returned.
func (c *Controller) ManualReconnect() error {
	if !c.post(manualMsg{}) {
		return core.ErrControllerStopped
	}
	return nil
}

// Snapshot returns the controller status as seen by the loop.
func (c *Controller) Snapshot(ctx context.Context) (Status, error) {
	select {
	case <-c.done:
		return Status{}, core.ErrControllerStopped
	default:
	}

	reply := make(chan Status, 1)
	if !c.post(snapshotMsg{reply: reply}) {
		return Status{}, core.ErrControllerStopped
	}

	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return Status{}, core.ErrControllerStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run creates the first session and processes events until ctx is cancelled. On return
// the pending retry is cancelled and the session destroyed. Run may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	defer close(c.done)

	c.logger.Info().
		Dur("base_delay", c.config.BaseDelay).
		Float64("multiplier", c.config.Multiplier).
		Dur("max_delay", c.config.MaxDelay).
		Int("max_attempts", c.config.MaxAttempts).
		Msg("reconnection controller started")

	c.recreate(TriggerInitial)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-c.wake:
			for _, msg := range c.drain() {
				if ctx.Err() != nil {
					break
				}
				c.handle(msg)
			}
		}
	}
}

// post queues msg for the loop. It reports false, dropping msg, once Run has returned.
func (c *Controller) post(msg message) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// queued returns the number of messages waiting for the loop.
func (c *Controller) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Controller) drain() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.queue
	c.queue = nil
	return batch
}

func (c *Controller) handle(msg message) {
	switch m := msg.(type) {
	case eventMsg:
		c.handleEvent(m.ev)
	case retryMsg:
		c.handleRetry(m.gen)
	case manualMsg:
		c.handleManual()
	case snapshotMsg:
		m.reply <- c.status()
	}
}

func (c *Controller) handleEvent(ev player.Event) {
	if ev.Session != c.session {
		c.counters.StaleEvents++
		c.logger.Debug().
			Str("event", ev.Kind.String()).
			Str("session", string(ev.Session)).
			Str("current", string(c.session)).
			Msg("ignoring event from stale session")
		return
	}

	handler, ok := c.handlers[ev.Kind]
	if !ok {
		c.logger.Warn().Str("event", ev.Kind.String()).Msg("no handler for session event")
		return
	}
	c.observer.SessionEvent(ev.Kind.String())
	handler(ev)
}

func (c *Controller) onError(ev player.Event) {
	c.logger.Warn().
		Err(ev.Err).
		Str("session", string(ev.Session)).
		Str("error_type", ev.ErrorKind.String()).
		Str("detail", ev.Detail).
		Msg("player error")
	c.handleFailure()
}

func (c *Controller) onStreamEnd(ev player.Event) {
	c.logger.Info().Str("session", string(ev.Session)).Msg("stream ended")
	c.handleFailure()
}

// onLoadComplete clears the attempt counter. The delay keeps its grown value until a
// manual reconnect.
func (c *Controller) onLoadComplete(ev player.Event) {
	c.attempts = 0
	c.exhausted = false
	c.logger.Info().
		Str("session", string(ev.Session)).
		Dur("delay", c.delay).
		Msg("stream loaded")
	c.observer.ObserveState(c.attempts, c.delay)
}

func (c *Controller) handleFailure() {
	if c.attempts >= c.config.MaxAttempts {
		c.exhausted = true
		c.counters.Exhaustions++
		c.logger.Error().
			Int("attempts", c.attempts).
			Int("max_attempts", c.config.MaxAttempts).
			Msg("max reconnection attempts reached")
		c.observer.Exhausted()
		return
	}

	c.attempts++
	c.cancelPending()

	delay := c.delay
	gen := c.gen
	c.pending = c.scheduler.AfterFunc(delay, func() {
		_ = c.post(retryMsg{gen: gen})
	})
	c.counters.RetriesScheduled++

	c.logger.Info().
		Int("attempt", c.attempts).
		Int("max_attempts", c.config.MaxAttempts).
		Dur("delay", delay).
		Msg("reconnection scheduled")

	c.delay = c.nextDelay(delay)
	c.observer.RetryScheduled(delay)
	c.observer.ObserveState(c.attempts, c.delay)
}

func (c *Controller) nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * c.config.Multiplier)
	if next > c.config.MaxDelay || next < d {
		return c.config.MaxDelay
	}
	return next
}

func (c *Controller) handleRetry(gen uint64) {
	if gen != c.gen || c.pending == nil {
		c.logger.Debug().Uint64("generation", gen).Msg("ignoring cancelled retry")
		return
	}
	c.pending = nil
	c.gen++
	c.counters.RetriesFired++

	c.logger.Info().
		Int("attempt", c.attempts).
		Int("max_attempts", c.config.MaxAttempts).
		Msg("reconnecting")
	c.recreate(TriggerRetry)
}

func (c *Controller) handleManual() {
	c.logger.Info().
		Int("attempts", c.attempts).
		Dur("delay", c.delay).
		Msg("manual reconnect")

	c.attempts = 0
	c.delay = c.config.BaseDelay
	c.exhausted = false
	c.cancelPending()
	c.counters.ManualReconnects++
	c.observer.ManualReconnect()
	c.observer.ObserveState(c.attempts, c.delay)

	c.recreate(TriggerManual)
}

// cancelPending stops the pending retry. A retry message already queued by the timer
// is invalidated by the generation bump.
func (c *Controller) cancelPending() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.gen++
}

func (c *Controller) recreate(trigger string) {
	id := c.owner.Create()
	c.session = id
	c.counters.SessionsCreated++
	c.observer.SessionCreated(trigger)

	c.logger.Info().
		Str("session", string(id)).
		Str("trigger", trigger).
		Msg("session created")
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.stopped = true
	c.queue = nil
	c.mu.Unlock()

	c.cancelPending()
	c.owner.Destroy()
	c.logger.Info().Str("session", string(c.session)).Msg("reconnection controller stopped")
}

func (c *Controller) status() Status {
	return Status{
		Session:     c.session,
		Attempts:    c.attempts,
		MaxAttempts: c.config.MaxAttempts,
		Delay:       c.delay,
		DelayMillis: c.delay.Milliseconds(),
		Pending:     c.pending != nil,
		Exhausted:   c.exhausted,
		Counters:    c.counters,
	}
}
