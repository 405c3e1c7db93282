// Package control exposes the manual reconnect trigger and controller status to
// operators, over a chat websocket and an HTTP admin router.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"flvwatch/internal/ratelimit"
	"flvwatch/pkg/core"
	"flvwatch/pkg/reconnect"
)

// Command names.
const (
	CommandReconnect = "reconnect"
	CommandStatus    = "status"
	CommandHistory   = "history"
)

// Command results reported to the Observer.
const (
	ResultAccepted  = "accepted"
	ResultThrottled = "throttled"
	ResultStopped   = "stopped"
	ResultOK        = "ok"
	ResultError     = "error"
	ResultUnknown   = "unknown"
)

// Reconnector is the controller surface the operator commands act on.
type Reconnector interface {
	ManualReconnect() error
	Snapshot(ctx context.Context) (reconnect.Status, error)
}

// Observer receives command instrumentation.
type Observer interface {
	Command(name, result string)
}

type nopObserver struct{}

func (nopObserver) Command(string, string) {}

// StatusReport is the controller status plus the operator command throttle counters.
type StatusReport struct {
	reconnect.Status
	Commands ratelimit.MetricsSnapshot `json:"commands"`
}

// Commander executes operator commands with a per-command throttle.
type Commander struct {
	target   Reconnector
	limiter  *ratelimit.Limiter
	observer Observer
	history  *History
	logger   zerolog.Logger
}

// NewCommander returns a Commander allowing perMinute commands of each kind per minute,
// with the given burst.
func NewCommander(target Reconnector, perMinute, burst int, observer Observer, logger zerolog.Logger) *Commander {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Commander{
		target:   target,
		limiter:  ratelimit.New(perMinute, time.Minute, burst),
		observer: observer,
		logger:   logger,
	}
}

// SetHistory records reconnect commands and their outcome in h.
func (c *Commander) SetHistory(h *History) {
	c.history = h
}

// History returns the attached history, or nil.
func (c *Commander) History() *History {
	return c.history
}

// Reconnect requests a manual reconnect. When the command rate is exceeded it returns
// core.ErrThrottled and the wait until the next accepted request. It returns
// core.ErrControllerStopped when the controller no longer runs.
func (c *Commander) Reconnect(source string) (time.Duration, error) {
	if !c.limiter.Allow(CommandReconnect) {
		wait := c.limiter.RetryAfter(CommandReconnect)
		c.record(source, CommandReconnect, ResultThrottled)
		c.logger.Warn().
			Str("source", source).
			Dur("retry_after", wait).
			Msg("manual reconnect throttled")
		return wait, core.ErrThrottled
	}

	if err := c.target.ManualReconnect(); err != nil {
		result := ResultError
		if errors.Is(err, core.ErrControllerStopped) {
			result = ResultStopped
		}
		c.record(source, CommandReconnect, result)
		c.logger.Warn().Err(err).Str("source", source).Msg("manual reconnect rejected")
		return 0, err
	}

	c.logger.Info().Str("source", source).Msg("manual reconnect requested")
	c.record(source, CommandReconnect, ResultAccepted)
	return 0, nil
}

// Status returns the controller status and the throttle counters.
func (c *Commander) Status(ctx context.Context) (StatusReport, error) {
	s, err := c.target.Snapshot(ctx)
	if err != nil {
		c.observer.Command(CommandStatus, ResultError)
		return StatusReport{}, err
	}
	c.observer.Command(CommandStatus, ResultOK)
	return StatusReport{Status: s, Commands: c.limiter.Metrics()}, nil
}

// Unknown reports a command the operator surfaces do not understand.
func (c *Commander) Unknown(source, name string) {
	c.logger.Debug().Str("source", source).Str("command", name).Msg("unknown operator command")
	c.observer.Command(ResultUnknown, ResultUnknown)
}

func (c *Commander) record(source, command, result string) {
	c.observer.Command(command, result)
	if c.history != nil {
		c.history.Add(HistoryEntry{Source: source, Command: command, Result: result})
	}
}
