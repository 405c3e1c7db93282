package player

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flvwatch/internal/flv"
	"flvwatch/internal/transport"
	"flvwatch/pkg/core"
)

type tagSurface struct {
	mu   sync.Mutex
	tags []flv.Tag
	err  error
}

func (s *tagSurface) Render(tag flv.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tags = append(s.tags, tag)
	return nil
}

func (s *tagSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tags)
}

type engineEvents struct {
	ch chan string
	mu sync.Mutex

	lastKind   core.ErrorKind
	lastDetail string
	lastErr    error
}

func newEngineEvents() *engineEvents {
	return &engineEvents{ch: make(chan string, 16)}
}

func (e *engineEvents) handlers() Handlers {
	return Handlers{
		OnError: func(kind core.ErrorKind, detail string, err error) {
			e.mu.Lock()
			e.lastKind, e.lastDetail, e.lastErr = kind, detail, err
			e.mu.Unlock()
			e.ch <- "error"
		},
		OnLoadComplete: func() { e.ch <- "load_complete" },
		OnStreamEnd:    func() { e.ch <- "stream_end" },
	}
}

func (e *engineEvents) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-e.ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for engine event")
		return ""
	}
}

func (e *engineEvents) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-e.ch:
		t.Fatalf("unexpected engine event %q", ev)
	case <-time.After(wait):
	}
}

func flvBytes(t *testing.T, tags ...flv.Tag) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := flv.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(flv.Header{HasAudio: true, HasVideo: true}))
	for _, tag := range tags {
		require.NoError(t, w.WriteTag(tag))
	}
	return buf.Bytes()
}

func sampleTags() []flv.Tag {
	return []flv.Tag{
		{Type: flv.TagScript, Data: []byte("onMetaData")},
		{Type: flv.TagVideo, Timestamp: 0, Data: []byte{0x17, 0x00, 0x00}},
		{Type: flv.TagAudio, Timestamp: 23, Data: []byte{0xaf, 0x01}},
	}
}

func newOpener(t *testing.T) *transport.Client {
	t.Helper()
	client, err := transport.NewClient(transport.Config{ConnectTimeout: 2 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func startEngine(t *testing.T, url string, surface Surface, stall time.Duration) (*FLVEngine, *engineEvents) {
	t.Helper()
	events := newEngineEvents()
	engine := NewFLVEngine(url, core.DefaultSessionConfig(), newOpener(t), stall, zerolog.Nop())
	engine.On(events.handlers())
	require.NoError(t, engine.Attach(surface))
	require.NoError(t, engine.Load())
	require.NoError(t, engine.Play())
	t.Cleanup(func() { _ = engine.Destroy() })
	return engine, events
}

func TestFLVEngine_PlaysUntilStreamEnd(t *testing.T) {
	release := make(chan struct{})
	body := flvBytes(t, sampleTags()...)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "video/x-flv")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	surface := &tagSurface{}
	_, events := startEngine(t, server.URL+"/live", surface, 0)
	close(release)

	assert.Equal(t, "load_complete", events.next(t))
	assert.Equal(t, "stream_end", events.next(t))
	assert.Equal(t, 3, surface.count())
}

func TestFLVEngine_TagsBeforePlayAreDropped(t *testing.T) {
	body := flvBytes(t, sampleTags()...)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer server.Close()

	surface := &tagSurface{}
	events := newEngineEvents()
	engine := NewFLVEngine(server.URL, core.DefaultSessionConfig(), newOpener(t), 0, zerolog.Nop())
	engine.On(events.handlers())
	require.NoError(t, engine.Attach(surface))
	require.NoError(t, engine.Load())
	defer engine.Destroy()

	assert.Equal(t, "load_complete", events.next(t))
	assert.Equal(t, "stream_end", events.next(t))
	assert.Equal(t, 0, surface.count())
}

func TestFLVEngine_Errors(t *testing.T) {
	full := flvBytes(t, sampleTags()...)

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantEvents []string
		wantKind   core.ErrorKind
		wantDetail string
	}{
		{
			name: "bad_status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantEvents: []string{"error"},
			wantKind:   core.ErrorKindNetwork,
			wantDetail: "HttpStatusCodeInvalid",
		},
		{
			name: "bad_signature",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>not a stream</html>"))
			},
			wantEvents: []string{"error"},
			wantKind:   core.ErrorKindMedia,
			wantDetail: "FormatUnsupported",
		},
		{
			name: "empty_body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			wantEvents: []string{"error"},
			wantKind:   core.ErrorKindNetwork,
			wantDetail: "EarlyEof",
		},
		{
			name: "truncated_tag",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(full[:len(full)-3])
			},
			wantEvents: []string{"load_complete", "error"},
			wantKind:   core.ErrorKindNetwork,
			wantDetail: "EarlyEof",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, events := startEngine(t, server.URL, &tagSurface{}, 0)
			for _, want := range tt.wantEvents {
				assert.Equal(t, want, events.next(t))
			}

			events.mu.Lock()
			defer events.mu.Unlock()
			assert.Equal(t, tt.wantKind, events.lastKind)
			assert.Equal(t, tt.wantDetail, events.lastDetail)
		})
	}
}

func TestFLVEngine_RenderError(t *testing.T) {
	release := make(chan struct{})
	body := flvBytes(t, sampleTags()...)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write(body)
	}))
	defer server.Close()

	surface := &tagSurface{err: errors.New("disk full")}
	_, events := startEngine(t, server.URL, surface, 0)
	close(release)

	assert.Equal(t, "error", events.next(t))
	events.mu.Lock()
	assert.Equal(t, core.ErrorKindMedia, events.lastKind)
	assert.Equal(t, "RenderError", events.lastDetail)
	events.mu.Unlock()
}

func TestFLVEngine_StallWatchdog(t *testing.T) {
	head := flvBytes(t, sampleTags()[:2]...)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(head)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	_, events := startEngine(t, server.URL, &tagSurface{}, 150*time.Millisecond)

	assert.Equal(t, "load_complete", events.next(t))
	assert.Equal(t, "error", events.next(t))
	events.mu.Lock()
	assert.Equal(t, "Stalled", events.lastDetail)
	assert.ErrorIs(t, events.lastErr, core.ErrStalled)
	events.mu.Unlock()
}

func TestFLVEngine_DestroySilencesEngine(t *testing.T) {
	head := flvBytes(t, sampleTags()[:2]...)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(head)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	engine, events := startEngine(t, server.URL, &tagSurface{}, 0)
	assert.Equal(t, "load_complete", events.next(t))

	start := time.Now()
	require.NoError(t, engine.Destroy())
	assert.Less(t, time.Since(start), destroyTimeout)
	assert.NoError(t, engine.Destroy())

	events.none(t, 100*time.Millisecond)
	assert.ErrorIs(t, engine.Load(), core.ErrEngineDestroyed)
	assert.ErrorIs(t, engine.Play(), core.ErrEngineDestroyed)
}

func TestFLVEngine_LifecycleGuards(t *testing.T) {
	engine := NewFLVEngine("http://127.0.0.1:1/live", core.DefaultSessionConfig(), newOpener(t), 0, zerolog.Nop())

	assert.ErrorIs(t, engine.Load(), core.ErrNotAttached)
	assert.ErrorIs(t, engine.Play(), core.ErrNotLoaded)
	assert.ErrorIs(t, engine.Attach(nil), core.ErrNotAttached)
	assert.NoError(t, engine.Destroy())
	assert.ErrorIs(t, engine.Attach(&tagSurface{}), core.ErrEngineDestroyed)
}

func TestNewFLVEngineFactory(t *testing.T) {
	factory := NewFLVEngineFactory(core.EngineConfig{BaseURL: "http://stream.local:8089"}, newOpener(t), zerolog.Nop())

	engine, err := factory(core.DefaultSessionConfig())
	require.NoError(t, err)
	assert.Equal(t, "http://stream.local:8089/live", engine.(*FLVEngine).endpoint)

	session := core.DefaultSessionConfig()
	session.Type = "hls"
	_, err = factory(session)
	assert.ErrorIs(t, err, core.ErrUnsupportedType)

	noBase := NewFLVEngineFactory(core.EngineConfig{}, newOpener(t), zerolog.Nop())
	_, err = noBase(core.DefaultSessionConfig())
	assert.Error(t, err)
}
