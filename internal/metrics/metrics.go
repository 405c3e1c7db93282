// Package metrics exposes Prometheus instrumentation for the playback keeper.
// Every Recorder owns its registry so several players can run in one process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the collectors of one player.
type Recorder struct {
	registry *prometheus.Registry

	attempts         prometheus.Gauge
	delay            prometheus.Gauge
	scheduled        prometheus.Counter
	exhausted        prometheus.Counter
	manual           prometheus.Counter
	sessions         *prometheus.CounterVec
	events           *prometheus.CounterVec
	engineErrors     *prometheus.CounterVec
	teardownFailures prometheus.Counter
	commands         *prometheus.CounterVec
}

// New creates a Recorder registered on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		attempts: f.NewGauge(prometheus.GaugeOpts{
			Name: "flvwatch_reconnect_attempts",
			Help: "Automatic reconnection attempts made since the last reset",
		}),
		delay: f.NewGauge(prometheus.GaugeOpts{
			Name: "flvwatch_reconnect_delay_seconds",
			Help: "Delay that will be applied to the next scheduled reconnection",
		}),
		scheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "flvwatch_reconnect_scheduled_total",
			Help: "Total number of reconnections scheduled after a failure",
		}),
		exhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "flvwatch_reconnect_exhausted_total",
			Help: "Total number of failures rejected because the attempt ceiling was reached",
		}),
		manual: f.NewCounter(prometheus.CounterOpts{
			Name: "flvwatch_manual_reconnects_total",
			Help: "Total number of manual reconnect requests",
		}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flvwatch_sessions_created_total",
			Help: "Total number of playback sessions created by trigger",
		}, []string{"trigger"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flvwatch_session_events_total",
			Help: "Total number of session lifecycle events handled by kind",
		}, []string{"kind"}),
		engineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flvwatch_engine_errors_total",
			Help: "Total number of engine errors by error kind",
		}, []string{"type"}),
		teardownFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "flvwatch_teardown_failures_total",
			Help: "Total number of suppressed session teardown failures",
		}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flvwatch_control_commands_total",
			Help: "Total number of operator commands by command and result",
		}, []string{"command", "result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveState records the controller's attempt counter and next delay.
func (r *Recorder) ObserveState(attempts int, delay time.Duration) {
	r.attempts.Set(float64(attempts))
	r.delay.Set(delay.Seconds())
}

// RetryScheduled counts a scheduled reconnection.
func (r *Recorder) RetryScheduled(time.Duration) {
	r.scheduled.Inc()
}

// Exhausted counts a failure rejected at the attempt ceiling.
func (r *Recorder) Exhausted() {
	r.exhausted.Inc()
}

// ManualReconnect counts a manual reconnect request.
func (r *Recorder) ManualReconnect() {
	r.manual.Inc()
}

// SessionCreated counts a session creation. trigger is initial, retry or manual.
func (r *Recorder) SessionCreated(trigger string) {
	r.sessions.WithLabelValues(trigger).Inc()
}

// SessionEvent counts a lifecycle event handled by the controller.
func (r *Recorder) SessionEvent(kind string) {
	r.events.WithLabelValues(kind).Inc()
}

// EngineError counts an engine error by kind.
func (r *Recorder) EngineError(kind string) {
	r.engineErrors.WithLabelValues(kind).Inc()
}

// TeardownFailed counts a suppressed teardown failure.
func (r *Recorder) TeardownFailed() {
	r.teardownFailures.Inc()
}

// Command counts an operator command. result is accepted, throttled or rejected.
func (r *Recorder) Command(name, result string) {
	r.commands.WithLabelValues(name, result).Inc()
}
