package core

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
)

// SessionConfig describes the single live stream a session plays.
// It is built once at startup and never mutated afterwards.
type SessionConfig struct {
	// Type is the transport/container tag of the stream. Only "flv" is supported.
	Type string `json:"type" validate:"required,oneof=flv"`
	// URL is the stream endpoint. Relative URLs are resolved against EngineConfig.BaseURL.
	URL string `json:"url" validate:"required"`
	// IsLive marks the stream as a live source with no known duration.
	IsLive bool `json:"is_live"`
	// HasAudio declares that the stream carries an audio track.
	HasAudio bool `json:"has_audio"`
	// HasVideo declares that the stream carries a video track.
	HasVideo bool `json:"has_video"`
}

// DefaultSessionConfig returns the fixed live session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Type:     "flv",
		URL:      "/live",
		IsLive:   true,
		HasAudio: true,
		HasVideo: true,
	}
}

// Endpoint resolves the session URL against base. An absolute session URL is returned as is.
func (s SessionConfig) Endpoint(base string) (string, error) {
	ref, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("parse session url: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("relative session url %q requires a base url", s.URL)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// ReconnectConfig holds the failure policy of the reconnection controller.
type ReconnectConfig struct {
	// BaseDelay is the delay before the first retry and the value restored by a manual reconnect.
	BaseDelay time.Duration `json:"base_delay" validate:"min=1ms"`
	// Multiplier is the growth factor applied to the delay after each scheduled retry.
	Multiplier float64 `json:"multiplier" validate:"gte=1"`
	// MaxDelay caps the retry delay.
	MaxDelay time.Duration `json:"max_delay" validate:"min=1ms"`
	// MaxAttempts is the number of automatic retries allowed before giving up.
	MaxAttempts int `json:"max_attempts" validate:"min=0"`
}

// DefaultReconnectConfig returns a ReconnectConfig with a 2s base delay growing by 1.5x
// up to 30s, and at most 10 attempts.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay:   2 * time.Second,
		Multiplier:  1.5,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// EngineConfig tunes the HTTP-FLV engine.
type EngineConfig struct {
	// BaseURL is the origin relative session URLs are resolved against.
	BaseURL string `json:"base_url" validate:"omitempty,url"`
	// ConnectTimeout bounds the time until response headers arrive.
	ConnectTimeout time.Duration `json:"connect_timeout" validate:"min=1ms"`
	// StallTimeout raises a network error when no tag arrives for this long. Zero disables it.
	StallTimeout time.Duration `json:"stall_timeout" validate:"min=0"`
	UserAgent    string        `json:"user_agent"`
}

// ControlConfig configures the operator control surfaces.
type ControlConfig struct {
	// ChatURL is the websocket endpoint delivering chat commands. Empty disables it.
	ChatURL string `json:"chat_url" validate:"omitempty,url"`
	// ListenAddr is the admin HTTP listen address. Empty disables it.
	ListenAddr        string `json:"listen_addr"`
	CommandsPerMinute int    `json:"commands_per_minute" validate:"min=1"`
	CommandBurst      int    `json:"command_burst" validate:"min=1"`
	// HistoryFile persists the command history. Empty keeps it in memory.
	HistoryFile string `json:"history_file"`
	HistorySize int    `json:"history_size" validate:"min=1"`
}

// Config contains all configuration options of the player process.
type Config struct {
	Session   SessionConfig   `json:"session"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Engine    EngineConfig    `json:"engine"`
	Control   ControlConfig   `json:"control"`

	// Output is the file the played stream is recorded to. Empty discards the media.
	Output string `json:"output"`

	LogLevel  string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `json:"log_format" validate:"omitempty,oneof=console json"`
}

// DefaultConfig returns a Config with the fixed live session, default reconnect policy,
// 10s connect timeout, 15s stall timeout and 6 commands per minute.
func DefaultConfig() *Config {
	return &Config{
		Session:   DefaultSessionConfig(),
		Reconnect: DefaultReconnectConfig(),
		Engine: EngineConfig{
			BaseURL:        "http://127.0.0.1:8089",
			ConnectTimeout: 10 * time.Second,
			StallTimeout:   15 * time.Second,
			UserAgent:      "flvwatch",
		},
		Control: ControlConfig{
			CommandsPerMinute: 6,
			CommandBurst:      2,
			HistorySize:       200,
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

var validate = validator.New()

// Validate checks field constraints and the cross-field reconnect invariants.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := c.Reconnect.Validate(); err != nil {
		return err
	}
	if _, err := c.Session.Endpoint(c.Engine.BaseURL); err != nil {
		return err
	}
	return nil
}

// Validate checks the field constraints and that MaxDelay is not below BaseDelay.
func (r ReconnectConfig) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.MaxDelay < r.BaseDelay {
		return errors.New("Reconnect.MaxDelay must not be lower than Reconnect.BaseDelay")
	}
	return nil
}

// WithSession replaces the session configuration and returns the config for chaining.
func (c *Config) WithSession(session SessionConfig) *Config {
	c.Session = session
	return c
}

// WithReconnect replaces the reconnect policy and returns the config for chaining.
func (c *Config) WithReconnect(reconnect ReconnectConfig) *Config {
	c.Reconnect = reconnect
	return c
}

// WithBaseURL sets the stream origin and returns the config for chaining.
func (c *Config) WithBaseURL(base string) *Config {
	c.Engine.BaseURL = base
	return c
}

// WithOutput sets the recording file and returns the config for chaining.
func (c *Config) WithOutput(path string) *Config {
	c.Output = path
	return c
}
