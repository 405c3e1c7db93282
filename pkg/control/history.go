package control

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"flvwatch/pkg/reconnect"
)

// DefaultHistorySize is the number of entries kept when no limit is configured.
const DefaultHistorySize = 200

// Outcomes recorded by the controller itself.
const (
	SourceController = "controller"
	ResultExhausted  = "exhausted"
)

// HistoryEntry is one operator command or controller outcome.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Command   string    `json:"command"`
	Result    string    `json:"result"`
}

type historyFile struct {
	Entries []HistoryEntry `json:"entries"`
}

// History is a bounded log of operator commands and controller outcomes. When a path is
// set every Add rewrites the file atomically.
//
// History implements reconnect.Observer and records backoff exhaustion.
type History struct {
	reconnect.NopObserver

	mu      sync.RWMutex
	saveMu  sync.Mutex
	entries []HistoryEntry
	limit   int
	path    string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewHistory returns a History keeping the last limit entries. An empty path keeps the
// history in memory only.
func NewHistory(path string, limit int, logger zerolog.Logger) *History {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &History{
		limit:  limit,
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// Load replaces the entries with the persisted ones. A missing or empty file leaves the
// history empty.
func (h *History) Load() error {
	if h.path == "" {
		return nil
	}
	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		h.logger.Info().Str("path", h.path).Msg("history file does not exist, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var file historyFile
	if err := sonic.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode history %s: %w", h.path, err)
	}

	h.mu.Lock()
	h.entries = trim(file.Entries, h.limit)
	n := len(h.entries)
	h.mu.Unlock()

	h.logger.Info().Int("entries", n).Str("path", h.path).Msg("loaded history")
	return nil
}

// Add appends entry, dropping the oldest beyond the limit. A zero timestamp is set to now.
func (h *History) Add(entry HistoryEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = h.now()
	}

	h.mu.Lock()
	h.entries = trim(append(h.entries, entry), h.limit)
	h.mu.Unlock()

	if h.path == "" {
		return
	}
	if err := h.Save(); err != nil {
		h.logger.Warn().Err(err).Str("path", h.path).Msg("error saving history")
	}
}

// Recent returns up to n of the newest entries, oldest first. n <= 0 returns all.
func (h *History) Recent(n int) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]HistoryEntry, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Len returns the number of entries held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Save writes the history to its file through a temporary file and rename.
func (h *History) Save() error {
	if h.path == "" {
		return nil
	}

	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	h.mu.RLock()
	data, err := sonic.Marshal(historyFile{Entries: h.entries})
	h.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	pending, err := renameio.NewPendingFile(h.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending history file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			h.logger.Debug().Err(err).Msg("cleanup pending history file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

// Exhausted records that the controller gave up reconnecting.
func (h *History) Exhausted() {
	h.Add(HistoryEntry{Source: SourceController, Command: CommandReconnect, Result: ResultExhausted})
}

func trim(entries []HistoryEntry, limit int) []HistoryEntry {
	if len(entries) <= limit {
		return entries
	}
	return append([]HistoryEntry(nil), entries[len(entries)-limit:]...)
}
