// Package surface provides display surfaces for the player.
package surface

import (
	"io"
	"sync"

	"github.com/rs/zerolog"

	"flvwatch/internal/flv"
	"flvwatch/pkg/player"
)

// Recorder writes every rendered tag to a single continuous FLV stream. Each new session
// is spliced onto the previous one: its timestamps are rebased so the output timeline
// keeps increasing across reconnects.
type Recorder struct {
	header flv.Header
	logger zerolog.Logger

	mu            sync.Mutex
	w             *flv.Writer
	headerWritten bool
	rebase        bool
	sessionStart  uint32
	offset        uint32
	last          uint32
	written       bool
	stats         Stats
}

// NewRecorder returns a Recorder writing to w. The file header announces the given tracks.
func NewRecorder(w io.Writer, hasAudio, hasVideo bool) *Recorder {
	return &Recorder{
		header: flv.Header{HasAudio: hasAudio, HasVideo: hasVideo},
		logger: zerolog.Nop(),
		w:      flv.NewWriter(w),
		rebase: true,
	}
}

// SetLogger sets the logger.
func (r *Recorder) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// BeginSession marks the start of a new session. The first tag after it continues the
// timeline where the previous session stopped.
func (r *Recorder) BeginSession(id player.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebase = true
	r.stats.LastSession = string(id)
	r.stats.Sessions++
	r.logger.Debug().Str("session", string(id)).Msg("recorder splicing new session")
}

// Render writes tag to the output.
func (r *Recorder) Render(tag flv.Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.headerWritten {
		if err := r.w.WriteHeader(r.header); err != nil {
			return err
		}
		r.headerWritten = true
	}

	if r.rebase {
		r.rebase = false
		r.sessionStart = tag.Timestamp
		r.offset = 0
		if r.written {
			r.offset = r.last + 1
		}
	}

	ts := r.offset
	if tag.Timestamp > r.sessionStart {
		ts += tag.Timestamp - r.sessionStart
	}
	out := tag
	out.Timestamp = ts
	if err := r.w.WriteTag(out); err != nil {
		return err
	}

	if ts > r.last || !r.written {
		r.last = ts
	}
	r.written = true
	r.stats.count(tag)
	return nil
}

// Stats returns the counters of everything written so far.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
