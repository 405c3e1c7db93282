// Package transport opens live HTTP media streams.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"flvwatch/pkg/core"
)

// Config holds options for the stream client.
type Config struct {
	// ConnectTimeout bounds dialing and waiting for response headers. The body itself
	// has no deadline because live streams never finish.
	ConnectTimeout time.Duration     `validate:"min=1ms"`
	UserAgent      string            `validate:"omitempty"`
	Headers        map[string]string `validate:"omitempty"`
}

// Client wraps a resty client configured for long-lived streaming responses.
type Client struct {
	client *resty.Client
	logger zerolog.Logger
}

// Stream is an open stream response. Callers must Close it.
type Stream struct {
	// Body is the unparsed response body.
	Body io.ReadCloser
	// StatusCode is the HTTP status code returned by the server.
	StatusCode int
	// ContentType is the Content-Type response header.
	ContentType string
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.Body.Close()
}

// NewClient creates a stream client. It returns an error if the config is invalid.
func NewClient(config Config, logger zerolog.Logger) (*Client, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := resty.New()
	client.SetTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
		ResponseHeaderTimeout: config.ConnectTimeout,
		ForceAttemptHTTP2:     false,
		DisableCompression:    true,
	})
	if config.UserAgent != "" {
		client.SetHeader("User-Agent", config.UserAgent)
	}
	for k, v := range config.Headers {
		client.SetHeader(k, v)
	}

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("stream request")
		return nil
	})

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

// Open issues a GET for url and returns the streaming body. Transport failures and
// non-2xx statuses are reported as network playback errors.
func (c *Client) Open(ctx context.Context, url string) (*Stream, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", url).Msg("stream request failed")
		return nil, core.NewPlaybackError(core.ErrorKindNetwork, "Exception", err)
	}

	status := resp.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		pe := core.NewPlaybackError(core.ErrorKindNetwork, "HttpStatusCodeInvalid", nil)
		pe.StatusCode = status
		return nil, pe
	}

	c.logger.Debug().
		Str("url", url).
		Int("status", status).
		Str("content_type", resp.Header().Get("Content-Type")).
		Msg("stream response")

	return &Stream{
		Body:        resp.Body,
		StatusCode:  status,
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	return c.client.Close()
}
