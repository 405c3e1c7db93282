// Command flvwatch keeps a live HTTP-FLV stream playing, reconnecting with backoff when
// the stream fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"flvwatch/internal/metrics"
	"flvwatch/internal/transport"
	"flvwatch/internal/ws"
	"flvwatch/pkg/control"
	"flvwatch/pkg/core"
	"flvwatch/pkg/player"
	"flvwatch/pkg/reconnect"
	"flvwatch/pkg/surface"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	baseURL := flag.String("base-url", "", "stream origin, overrides engine.base_url")
	output := flag.String("output", "", "record the stream to this file, overrides output")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *baseURL != "" {
		cfg.WithBaseURL(*baseURL)
	}
	if *output != "" {
		cfg.WithOutput(*output)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("flvwatch failed")
	}
}

func newLogger(cfg *core.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Str("component", "flvwatch").Logger()
}

func run(ctx context.Context, cfg *core.Config, logger zerolog.Logger) error {
	rec := metrics.New()

	client, err := transport.NewClient(transport.Config{
		ConnectTimeout: cfg.Engine.ConnectTimeout,
		UserAgent:      cfg.Engine.UserAgent,
	}, logger.With().Str("component", "transport").Logger())
	if err != nil {
		return err
	}
	defer client.Close()

	display, closeDisplay, err := openSurface(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDisplay()

	factory := player.NewFLVEngineFactory(cfg.Engine, client, logger.With().Str("component", "engine").Logger())
	owner := player.NewOwner(cfg.Session, display, factory,
		player.WithLogger(logger.With().Str("component", "player").Logger()),
		player.WithObserver(rec),
	)

	history := control.NewHistory(cfg.Control.HistoryFile, cfg.Control.HistorySize,
		logger.With().Str("component", "history").Logger())
	if err := history.Load(); err != nil {
		logger.Warn().Err(err).Msg("error loading history, starting empty")
	}

	ctrl, err := reconnect.New(owner, cfg.Reconnect,
		reconnect.WithLogger(logger.With().Str("component", "reconnect").Logger()),
		reconnect.WithObserver(rec),
		reconnect.WithObserver(history),
	)
	if err != nil {
		return err
	}

	commander := control.NewCommander(ctrl, cfg.Control.CommandsPerMinute, cfg.Control.CommandBurst, rec,
		logger.With().Str("component", "control").Logger())
	commander.SetHistory(history)

	if cfg.Control.ChatURL != "" {
		chat := control.NewChatChannel(ws.Config{
			URL:              cfg.Control.ChatURL,
			ReconnectEnabled: true,
		}, commander, logger.With().Str("component", "chat").Logger())
		if err := chat.Start(ctx); err != nil {
			return fmt.Errorf("start chat control: %w", err)
		}
		defer chat.Close()
	}

	if cfg.Control.ListenAddr != "" {
		server := &http.Server{
			Addr: cfg.Control.ListenAddr,
			Handler: control.NewRouter(commander, control.RouterConfig{
				Metrics:           rec.Handler(),
				History:           history,
				RequestsPerMinute: 120,
				Logger:            logger.With().Str("component", "admin").Logger(),
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", server.Addr).Msg("admin server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("admin server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	endpoint, _ := cfg.Session.Endpoint(cfg.Engine.BaseURL)
	logger.Info().Str("endpoint", endpoint).Msg("starting playback")

	return ctrl.Run(ctx)
}

func openSurface(cfg *core.Config, logger zerolog.Logger) (player.Surface, func(), error) {
	if cfg.Output == "" {
		counter := surface.NewCounter()
		return counter, func() {
			logger.Info().Interface("stats", counter.Stats()).Msg("playback finished")
		}, nil
	}

	f, err := os.Create(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	recorder := surface.NewRecorder(f, cfg.Session.HasAudio, cfg.Session.HasVideo)
	recorder.SetLogger(logger.With().Str("component", "recorder").Logger())
	return recorder, func() {
		logger.Info().Interface("stats", recorder.Stats()).Str("output", cfg.Output).Msg("recording finished")
		if err := f.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing output")
		}
	}, nil
}
