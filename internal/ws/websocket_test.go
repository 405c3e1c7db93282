package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lxzan/gws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverHandler struct {
	gws.BuiltinEventHandler
	greeting []byte

	mu       sync.Mutex
	received []string
}

func (h *serverHandler) OnOpen(socket *gws.Conn) {
	if h.greeting != nil {
		_ = socket.WriteMessage(gws.OpcodeText, h.greeting)
	}
}

func (h *serverHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	h.mu.Lock()
	h.received = append(h.received, message.Data.String())
	h.mu.Unlock()
}

func (h *serverHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.received...)
}

func newServer(t *testing.T, handler *serverHandler) string {
	t.Helper()
	upgrader := gws.NewUpgrader(handler, &gws.ServerOption{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	t.Cleanup(server.Close)
	return "ws://" + strings.TrimPrefix(server.URL, "http://")
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{URL: "ws://example.com/chat"}, nil)

	assert.NotNil(t, client)
	assert.False(t, client.IsConnected())
	assert.Equal(t, StateDisconnected, client.State())
	assert.Equal(t, 1*time.Second, client.config.ReconnectBaseWait)
	assert.Equal(t, 30*time.Second, client.config.ReconnectMaxWait)
	assert.Equal(t, 10*time.Second, client.config.PingInterval)
	assert.Equal(t, 20*time.Second, client.config.PongWait)
	assert.Equal(t, 10*time.Second, client.config.DialTimeout)
}

func TestClient_CalculateBackoff(t *testing.T) {
	client := NewClient(Config{
		URL:               "ws://example.com/chat",
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
	}, nil)

	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{64, 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, client.calculateBackoff(tt.attempts), "backoff for attempt %d", tt.attempts)
	}
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnState(42).String())
}

func TestState_CompareAndSwap(t *testing.T) {
	var s State
	s.Store(StateConnecting)

	assert.False(t, s.CompareAndSwap(StateConnected, StateDisconnected))
	assert.True(t, s.CompareAndSwap(StateConnected, StateDisconnected, StateConnecting))
	assert.Equal(t, StateConnected, s.Load())
}

func TestClient_WriteText_NotConnected(t *testing.T) {
	client := NewClient(Config{URL: "ws://example.com/chat"}, nil)

	assert.ErrorIs(t, client.WriteText([]byte("hi")), ErrNotConnected)
	assert.ErrorIs(t, client.SendJSON(map[string]string{"a": "b"}), ErrNotConnected)
}

func TestClient_ReceivesAndSends(t *testing.T) {
	handler := &serverHandler{greeting: []byte(`{"type":"command","command":"reconnect"}`)}
	url := newServer(t, handler)

	received := make(chan []byte, 1)
	client := NewClient(Config{URL: url}, func(data []byte) { received <- data })
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.IsConnected())

	select {
	case data := <-received:
		assert.JSONEq(t, `{"type":"command","command":"reconnect"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	require.NoError(t, client.SendJSON(map[string]string{"type": "status"}))
	assert.Eventually(t, func() bool {
		return len(handler.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"type":"status"}`, handler.messages()[0])
}

func TestClient_Close(t *testing.T) {
	url := newServer(t, &serverHandler{})

	client := NewClient(Config{URL: url, ReconnectEnabled: true}, nil)
	require.NoError(t, client.Connect(context.Background()))

	assert.NoError(t, client.Close())
	assert.Equal(t, StateClosed, client.State())
	assert.NoError(t, client.Close())
}

func TestClient_StartRetriesInBackground(t *testing.T) {
	client := NewClient(Config{
		URL:               "ws://127.0.0.1:1/chat",
		ReconnectEnabled:  true,
		ReconnectBaseWait: time.Hour,
		DialTimeout:       time.Second,
	}, nil)

	assert.NoError(t, client.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return client.State() == StateReconnecting
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, client.Close())
}
