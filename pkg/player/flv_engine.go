package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"flvwatch/internal/flv"
	"flvwatch/internal/transport"
	"flvwatch/pkg/core"
)

const destroyTimeout = 5 * time.Second

// StreamOpener opens the HTTP stream of a session.
type StreamOpener interface {
	Open(ctx context.Context, url string) (*transport.Stream, error)
}

// FLVEngine plays a live HTTP-FLV stream: it fetches the endpoint, demuxes the byte
// stream into tags and renders them on the attached surface.
type FLVEngine struct {
	endpoint     string
	config       core.SessionConfig
	opener       StreamOpener
	stallTimeout time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	surface Surface
	loaded  bool
	cancel  context.CancelFunc
	done    chan struct{}
	playing atomic.Bool

	// cbMu serializes callbacks with Destroy so none fires after it returns.
	cbMu      sync.Mutex
	handlers  Handlers
	destroyed bool
}

// NewFLVEngineFactory returns an EngineFactory producing FLV engines that open streams
// with opener. Relative session URLs are resolved against config.BaseURL.
func NewFLVEngineFactory(config core.EngineConfig, opener StreamOpener, logger zerolog.Logger) EngineFactory {
	return func(session core.SessionConfig) (Engine, error) {
		if session.Type != "flv" {
			return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedType, session.Type)
		}
		endpoint, err := session.Endpoint(config.BaseURL)
		if err != nil {
			return nil, err
		}
		return NewFLVEngine(endpoint, session, opener, config.StallTimeout, logger), nil
	}
}

// NewFLVEngine returns an engine for endpoint. A zero stallTimeout disables the watchdog.
func NewFLVEngine(endpoint string, config core.SessionConfig, opener StreamOpener, stallTimeout time.Duration, logger zerolog.Logger) *FLVEngine {
	return &FLVEngine{
		endpoint:     endpoint,
		config:       config,
		opener:       opener,
		stallTimeout: stallTimeout,
		logger:       logger,
	}
}

func (e *FLVEngine) On(handlers Handlers) {
	e.cbMu.Lock()
	e.handlers = handlers
	e.cbMu.Unlock()
}

func (e *FLVEngine) Attach(surface Surface) error {
	if surface == nil {
		return core.ErrNotAttached
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isDestroyed() {
		return core.ErrEngineDestroyed
	}
	e.surface = surface
	return nil
}

// Load starts the fetch goroutine. Network failures are reported through OnError.
func (e *FLVEngine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isDestroyed() {
		return core.ErrEngineDestroyed
	}
	if e.surface == nil {
		return core.ErrNotAttached
	}
	if e.loaded {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.loaded = true
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx, e.surface, e.done)
	return nil
}

// Play enables rendering. Tags demuxed before Play are dropped.
func (e *FLVEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isDestroyed() {
		return core.ErrEngineDestroyed
	}
	if !e.loaded {
		return core.ErrNotLoaded
	}
	e.playing.Store(true)
	return nil
}

// Destroy cancels the fetch and waits for the fetch goroutine to exit.
func (e *FLVEngine) Destroy() error {
	e.cbMu.Lock()
	already := e.destroyed
	e.destroyed = true
	e.cbMu.Unlock()
	if already {
		return nil
	}

	e.playing.Store(false)

	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(destroyTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("flv engine for %s did not stop within %s", e.endpoint, destroyTimeout)
	}
}

func (e *FLVEngine) isDestroyed() bool {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	return e.destroyed
}

func (e *FLVEngine) emit(fn func(h Handlers)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	if e.destroyed {
		return
	}
	fn(e.handlers)
}

func (e *FLVEngine) fail(kind core.ErrorKind, detail string, err error) {
	e.emit(func(h Handlers) {
		if h.OnError != nil {
			h.OnError(kind, detail, err)
		}
	})
}

func (e *FLVEngine) run(ctx context.Context, surface Surface, done chan struct{}) {
	defer close(done)

	stream, err := e.opener.Open(ctx, e.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.fail(core.KindOf(err), detailOf(err), err)
		return
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	var stalled atomic.Bool
	var watchdog *time.Timer
	if e.stallTimeout > 0 {
		watchdog = time.AfterFunc(e.stallTimeout, func() {
			stalled.Store(true)
			_ = stream.Close()
		})
		defer watchdog.Stop()
	}

	readErr := func(err error) {
		switch {
		case ctx.Err() != nil:
		case stalled.Load():
			e.fail(core.ErrorKindNetwork, "Stalled", core.ErrStalled)
		case errors.Is(err, flv.ErrSignature), errors.Is(err, flv.ErrVersion):
			e.fail(core.ErrorKindMedia, "FormatUnsupported", fmt.Errorf("%w: %w", core.ErrInvalidHeader, err))
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
			e.fail(core.ErrorKindNetwork, "EarlyEof", err)
		default:
			e.fail(core.ErrorKindNetwork, "Exception", err)
		}
	}

	r := flv.NewReader(stream.Body)
	header, err := r.ReadHeader()
	if err != nil {
		readErr(err)
		return
	}
	if header.HasAudio != e.config.HasAudio || header.HasVideo != e.config.HasVideo {
		e.logger.Warn().
			Bool("header_audio", header.HasAudio).
			Bool("header_video", header.HasVideo).
			Bool("config_audio", e.config.HasAudio).
			Bool("config_video", e.config.HasVideo).
			Msg("flv header tracks differ from session config")
	}

	loaded := false
	for {
		tag, err := r.ReadTag()
		if err != nil {
			if errors.Is(err, io.EOF) && ctx.Err() == nil && !stalled.Load() {
				e.emit(func(h Handlers) {
					if h.OnStreamEnd != nil {
						h.OnStreamEnd()
					}
				})
				return
			}
			readErr(err)
			return
		}
		if watchdog != nil {
			watchdog.Reset(e.stallTimeout)
		}

		if tag.IsMedia() && !loaded {
			loaded = true
			e.emit(func(h Handlers) {
				if h.OnLoadComplete != nil {
					h.OnLoadComplete()
				}
			})
		}
		if !e.playing.Load() {
			continue
		}
		if err := surface.Render(tag); err != nil {
			if ctx.Err() == nil {
				e.fail(core.ErrorKindMedia, "RenderError", err)
			}
			return
		}
	}
}

func detailOf(err error) string {
	var pe *core.PlaybackError
	if errors.As(err, &pe) && pe.Detail != "" {
		return pe.Detail
	}
	return "Exception"
}
