package reconnect

import (
	"time"

	"flvwatch/pkg/player"
)

// Counters are cumulative controller totals.
type Counters struct {
	SessionsCreated  uint64 `json:"sessions_created"`
	RetriesScheduled uint64 `json:"retries_scheduled"`
	RetriesFired     uint64 `json:"retries_fired"`
	ManualReconnects uint64 `json:"manual_reconnects"`
	Exhaustions      uint64 `json:"exhaustions"`
	StaleEvents      uint64 `json:"stale_events"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	Session     player.SessionID `json:"session"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	Delay       time.Duration    `json:"-"`
	DelayMillis int64            `json:"delay_ms"`
	Pending     bool             `json:"pending"`
	Exhausted   bool             `json:"exhausted"`
	Counters    Counters         `json:"counters"`
}
