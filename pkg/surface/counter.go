package surface

import (
	"sync"

	"flvwatch/internal/flv"
	"flvwatch/pkg/player"
)

// Stats counts rendered tags.
type Stats struct {
	Sessions    uint64 `json:"sessions"`
	AudioTags   uint64 `json:"audio_tags"`
	VideoTags   uint64 `json:"video_tags"`
	ScriptTags  uint64 `json:"script_tags"`
	Bytes       uint64 `json:"bytes"`
	LastSession string `json:"last_session,omitempty"`
}

func (s *Stats) count(tag flv.Tag) {
	switch tag.Type {
	case flv.TagAudio:
		s.AudioTags++
	case flv.TagVideo:
		s.VideoTags++
	case flv.TagScript:
		s.ScriptTags++
	}
	s.Bytes += uint64(len(tag.Data))
}

// Counter discards tags and only counts them.
type Counter struct {
	mu    sync.Mutex
	stats Stats
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) BeginSession(id player.SessionID) {
	c.mu.Lock()
	c.stats.Sessions++
	c.stats.LastSession = string(id)
	c.mu.Unlock()
}

func (c *Counter) Render(tag flv.Tag) error {
	c.mu.Lock()
	c.stats.count(tag)
	c.mu.Unlock()
	return nil
}

// Stats returns a copy of the counters.
func (c *Counter) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
