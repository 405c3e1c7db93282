// Package ws is a websocket client that stays connected: when the connection drops it
// redials with a doubling backoff until Close is called.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned when writing without an open connection.
var ErrNotConnected = errors.New("websocket not connected")

// Config holds configuration options for a websocket client.
type Config struct {
	// URL is the websocket server endpoint to connect to.
	URL string
	// Header is sent with the upgrade request.
	Header http.Header
	// ReconnectEnabled determines whether the client redials after a disconnect.
	ReconnectEnabled bool
	// ReconnectBaseWait is the wait before the first redial.
	ReconnectBaseWait time.Duration
	// ReconnectMaxWait caps the wait between redials.
	ReconnectMaxWait time.Duration
	// PingInterval is the duration between keepalive pings.
	PingInterval time.Duration
	// PongWait is how long past a ping the connection may stay silent.
	PongWait time.Duration
	// DialTimeout bounds a single redial.
	DialTimeout time.Duration
}

// Client manages a websocket connection and hands every text message to a handler.
type Client struct {
	config    Config
	state     *State
	handler   *eventHandler
	onMessage func([]byte)
	logger    zerolog.Logger

	mu          sync.RWMutex
	conn        *gws.Conn
	connectedCh chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
	attempts    int
}

type eventHandler struct {
	client *Client
}

// NewClient creates a websocket client delivering messages to onMessage.
// Default values are applied for any zero-valued configuration fields.
func NewClient(config Config, onMessage func([]byte)) *Client {
	if config.ReconnectBaseWait == 0 {
		config.ReconnectBaseWait = 1 * time.Second
	}
	if config.ReconnectMaxWait == 0 {
		config.ReconnectMaxWait = 30 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PongWait == 0 {
		config.PongWait = 20 * time.Second
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if onMessage == nil {
		onMessage = func([]byte) {}
	}

	c := &Client{
		config:      config,
		state:       &State{},
		onMessage:   onMessage,
		connectedCh: make(chan struct{}),
		stopCh:      make(chan struct{}),
		logger:      zerolog.Nop(),
	}
	c.state.Store(StateDisconnected)
	c.handler = &eventHandler{client: c}
	return c
}

// SetLogger configures the logger for the client.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

func (c *Client) deadline() time.Time {
	return time.Now().Add(c.config.PingInterval + c.config.PongWait)
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	c := h.client
	c.state.Store(StateConnected)

	c.mu.Lock()
	c.attempts = 0
	select {
	case <-c.connectedCh:
	default:
		close(c.connectedCh)
	}
	c.mu.Unlock()

	c.logger.Info().Str("url", c.config.URL).Msg("websocket connected")
	_ = socket.SetDeadline(c.deadline())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.keepalive(socket)
	}()
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	c := h.client
	if !c.state.CompareAndSwap(StateDisconnected, StateConnected, StateConnecting) {
		return
	}

	c.mu.Lock()
	c.connectedCh = make(chan struct{})
	c.mu.Unlock()

	c.logger.Warn().Err(err).Str("url", c.config.URL).Msg("websocket disconnected")

	if !c.config.ReconnectEnabled {
		return
	}
	select {
	case <-c.stopCh:
	default:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reconnect()
		}()
	}
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(h.client.deadline())
	_ = socket.WritePong(payload)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(h.client.deadline())
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	_ = socket.SetDeadline(h.client.deadline())
	if message.Opcode != gws.OpcodeText {
		return
	}
	data := message.Bytes()
	if len(data) == 0 {
		return
	}

	h.client.logger.Debug().Str("data", string(data)).Msg("received websocket message")

	buf := make([]byte, len(data))
	copy(buf, data)
	h.client.onMessage(buf)
}

// Connect dials the configured URL and waits until the connection is open.
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(StateConnecting, StateDisconnected, StateReconnecting) {
		current := c.state.Load()
		if current == StateConnected {
			return nil
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	socket, _, err := gws.NewClient(c.handler, &gws.ClientOption{
		Addr:          c.config.URL,
		RequestHeader: c.config.Header,
	})
	if err != nil {
		c.state.CompareAndSwap(StateDisconnected, StateConnecting)
		return fmt.Errorf("connect websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = socket
	connected := c.connectedCh
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		socket.ReadLoop()
	}()

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		return ctx.Err()
	case <-c.stopCh:
		_ = socket.NetConn().Close()
		return fmt.Errorf("client stopped")
	}
}

// Start connects like Connect, but when the first dial fails and reconnects are enabled it
// keeps redialing in the background and returns nil.
func (c *Client) Start(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	err := c.Connect(dialCtx)
	cancel()
	if err == nil || !c.config.ReconnectEnabled {
		return err
	}

	c.logger.Warn().Err(err).Str("url", c.config.URL).Msg("websocket unavailable, retrying in background")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconnect()
	}()
	return nil
}

// Close shuts the client down and waits for its goroutines. It is safe to call twice.
func (c *Client) Close() error {
	prev := c.state.Load()
	if prev == StateClosed {
		return nil
	}
	c.state.Store(StateClosed)

	c.mu.Lock()
	select {
	case <-c.stopCh:
		c.mu.Unlock()
		return nil
	default:
		close(c.stopCh)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteClose(1000, nil)
		_ = conn.NetConn().Close()
	}

	c.wg.Wait()
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return c.state.Load()
}

// IsConnected returns true if the websocket has an active connection.
func (c *Client) IsConnected() bool {
	return c.state.Load() == StateConnected
}

// WriteText sends data as a text frame.
func (c *Client) WriteText(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.Load() != StateConnected {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(gws.OpcodeText, data)
}

// SendJSON marshals v and sends it as a text frame.
func (c *Client) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.WriteText(data)
}

func (c *Client) keepalive(socket *gws.Conn) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.RLock()
			current := c.conn == socket
			c.mu.RUnlock()
			if !current || c.state.Load() != StateConnected {
				return
			}
			if err := socket.WritePing(nil); err != nil {
				c.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func (c *Client) reconnect() {
	if !c.state.CompareAndSwap(StateReconnecting, StateDisconnected) {
		return
	}

	for {
		c.mu.Lock()
		attempt := c.attempts
		c.attempts++
		c.mu.Unlock()

		wait := c.calculateBackoff(attempt)
		c.logger.Info().
			Dur("wait", wait).
			Int("attempt", attempt+1).
			Msg("websocket reconnect scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info().Int("attempt", attempt+1).Msg("websocket reconnected")
			return
		}

		c.logger.Error().Err(err).Int("attempt", attempt+1).Msg("websocket reconnect failed")
		if !c.state.CompareAndSwap(StateReconnecting, StateDisconnected, StateConnecting) {
			return
		}
	}
}

func (c *Client) calculateBackoff(attempts int) time.Duration {
	if attempts > 30 {
		return c.config.ReconnectMaxWait
	}
	return min(c.config.ReconnectBaseWait*time.Duration(1<<uint(attempts)), c.config.ReconnectMaxWait)
}
