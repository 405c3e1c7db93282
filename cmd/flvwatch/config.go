package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"flvwatch/pkg/core"
)

type fileConfig struct {
	Output    string `toml:"output"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Session struct {
		Type     string `toml:"type"`
		URL      string `toml:"url"`
		IsLive   bool   `toml:"is_live"`
		HasAudio bool   `toml:"has_audio"`
		HasVideo bool   `toml:"has_video"`
	} `toml:"session"`

	Reconnect struct {
		BaseDelay   string  `toml:"base_delay"`
		Multiplier  float64 `toml:"multiplier"`
		MaxDelay    string  `toml:"max_delay"`
		MaxAttempts int     `toml:"max_attempts"`
	} `toml:"reconnect"`

	Engine struct {
		BaseURL        string `toml:"base_url"`
		ConnectTimeout string `toml:"connect_timeout"`
		StallTimeout   string `toml:"stall_timeout"`
		UserAgent      string `toml:"user_agent"`
	} `toml:"engine"`

	Control struct {
		ChatURL           string `toml:"chat_url"`
		ListenAddr        string `toml:"listen_addr"`
		CommandsPerMinute int    `toml:"commands_per_minute"`
		CommandBurst      int    `toml:"command_burst"`
		HistoryFile       string `toml:"history_file"`
		HistorySize       int    `toml:"history_size"`
	} `toml:"control"`
}

// loadConfig returns the defaults overridden by the keys present in the file at path.
// An empty path returns the defaults.
func loadConfig(path string) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("output") {
		cfg.Output = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(raw.LogFormat))
	}

	if meta.IsDefined("session", "type") {
		cfg.Session.Type = strings.TrimSpace(raw.Session.Type)
	}
	if meta.IsDefined("session", "url") {
		cfg.Session.URL = strings.TrimSpace(raw.Session.URL)
	}
	if meta.IsDefined("session", "is_live") {
		cfg.Session.IsLive = raw.Session.IsLive
	}
	if meta.IsDefined("session", "has_audio") {
		cfg.Session.HasAudio = raw.Session.HasAudio
	}
	if meta.IsDefined("session", "has_video") {
		cfg.Session.HasVideo = raw.Session.HasVideo
	}

	if meta.IsDefined("reconnect", "base_delay") {
		d, err := parseDuration("reconnect.base_delay", raw.Reconnect.BaseDelay)
		if err != nil {
			return nil, err
		}
		cfg.Reconnect.BaseDelay = d
	}
	if meta.IsDefined("reconnect", "multiplier") {
		cfg.Reconnect.Multiplier = raw.Reconnect.Multiplier
	}
	if meta.IsDefined("reconnect", "max_delay") {
		d, err := parseDuration("reconnect.max_delay", raw.Reconnect.MaxDelay)
		if err != nil {
			return nil, err
		}
		cfg.Reconnect.MaxDelay = d
	}
	if meta.IsDefined("reconnect", "max_attempts") {
		cfg.Reconnect.MaxAttempts = raw.Reconnect.MaxAttempts
	}

	if meta.IsDefined("engine", "base_url") {
		cfg.Engine.BaseURL = strings.TrimSpace(raw.Engine.BaseURL)
	}
	if meta.IsDefined("engine", "connect_timeout") {
		d, err := parseDuration("engine.connect_timeout", raw.Engine.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		cfg.Engine.ConnectTimeout = d
	}
	if meta.IsDefined("engine", "stall_timeout") {
		d, err := parseDuration("engine.stall_timeout", raw.Engine.StallTimeout)
		if err != nil {
			return nil, err
		}
		cfg.Engine.StallTimeout = d
	}
	if meta.IsDefined("engine", "user_agent") {
		cfg.Engine.UserAgent = strings.TrimSpace(raw.Engine.UserAgent)
	}

	if meta.IsDefined("control", "chat_url") {
		cfg.Control.ChatURL = strings.TrimSpace(raw.Control.ChatURL)
	}
	if meta.IsDefined("control", "listen_addr") {
		cfg.Control.ListenAddr = strings.TrimSpace(raw.Control.ListenAddr)
	}
	if meta.IsDefined("control", "commands_per_minute") {
		cfg.Control.CommandsPerMinute = raw.Control.CommandsPerMinute
	}
	if meta.IsDefined("control", "command_burst") {
		cfg.Control.CommandBurst = raw.Control.CommandBurst
	}
	if meta.IsDefined("control", "history_file") {
		cfg.Control.HistoryFile = strings.TrimSpace(raw.Control.HistoryFile)
	}
	if meta.IsDefined("control", "history_size") {
		cfg.Control.HistorySize = raw.Control.HistorySize
	}

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
