package control

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"flvwatch/internal/ws"
	"flvwatch/pkg/core"
)

const (
	statusTimeout = 2 * time.Second
	chatHistory   = 20
)

// Message is the chat control frame.
type Message struct {
	Type       string         `json:"type"`
	Command    string         `json:"command,omitempty"`
	Result     string         `json:"result,omitempty"`
	RetryAfter int64          `json:"retry_after_ms,omitempty"`
	Status     *StatusReport  `json:"status,omitempty"`
	History    []HistoryEntry `json:"history,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type sender interface {
	SendJSON(v any) error
}

// ChatChannel receives operator commands from a chat websocket and answers on it.
type ChatChannel struct {
	client    *ws.Client
	out       sender
	commander *Commander
	logger    zerolog.Logger
}

// NewChatChannel returns a ChatChannel connecting with config.
func NewChatChannel(config ws.Config, commander *Commander, logger zerolog.Logger) *ChatChannel {
	c := &ChatChannel{
		commander: commander,
		logger:    logger,
	}
	c.client = ws.NewClient(config, c.handleMessage)
	c.client.SetLogger(logger)
	c.out = c.client
	return c
}

// Start connects to the chat server. Connection failures are retried in the background.
func (c *ChatChannel) Start(ctx context.Context) error {
	return c.client.Start(ctx)
}

// Close disconnects from the chat server.
func (c *ChatChannel) Close() error {
	return c.client.Close()
}

func (c *ChatChannel) handleMessage(data []byte) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("ignoring malformed chat message")
		return
	}
	if msg.Type != "command" {
		return
	}

	reply := c.execute(msg.Command)
	if err := c.out.SendJSON(reply); err != nil {
		c.logger.Warn().Err(err).Str("command", msg.Command).Msg("error sending chat reply")
	}
}

func (c *ChatChannel) execute(command string) Message {
	switch command {
	case CommandReconnect:
		wait, err := c.commander.Reconnect("chat")
		switch {
		case errors.Is(err, core.ErrThrottled):
			return Message{Type: "ack", Command: command, Result: ResultThrottled, RetryAfter: wait.Milliseconds()}
		case errors.Is(err, core.ErrControllerStopped):
			return Message{Type: "ack", Command: command, Result: ResultStopped, Error: err.Error()}
		case err != nil:
			return Message{Type: "ack", Command: command, Result: ResultError, Error: err.Error()}
		}
		return Message{Type: "ack", Command: command, Result: ResultAccepted}

	case CommandStatus:
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		defer cancel()
		s, err := c.commander.Status(ctx)
		if err != nil {
			return Message{Type: "ack", Command: command, Result: ResultError, Error: err.Error()}
		}
		return Message{Type: "status", Status: &s}

	case CommandHistory:
		h := c.commander.History()
		if h == nil {
			c.commander.Unknown("chat", command)
			return Message{Type: "ack", Command: command, Result: ResultUnknown}
		}
		return Message{Type: "history", History: h.Recent(chatHistory)}

	default:
		c.commander.Unknown("chat", command)
		return Message{Type: "ack", Command: command, Result: ResultUnknown}
	}
}
