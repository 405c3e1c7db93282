package control

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"flvwatch/pkg/core"
)

// RouterConfig configures the admin router.
type RouterConfig struct {
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// History serves GET /history when set.
	History *History
	// RequestsPerMinute limits requests per client IP. Zero disables the limit.
	RequestsPerMinute int
	Logger            zerolog.Logger
}

// NewRouter returns the admin HTTP handler:
//
//	POST /reconnect  202 Accepted, 429 when throttled, 503 once the controller stopped
//	GET  /status     controller status as JSON
//	GET  /history    recent commands and outcomes, ?limit=N
//	GET  /metrics    Prometheus metrics
//	GET  /healthz    liveness
func NewRouter(commander *Commander, config RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(config.Logger))
	if config.RequestsPerMinute > 0 {
		r.Use(httprate.Limit(
			config.RequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limit_exceeded"})
			}),
		))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/reconnect", func(w http.ResponseWriter, r *http.Request) {
		wait, err := commander.Reconnect("http")
		if errors.Is(err, core.ErrThrottled) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(wait.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"result": ResultAccepted})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		s, err := commander.Status(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, s)
	})

	if config.History != nil {
		r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
					return
				}
				limit = n
			}
			writeJSON(w, http.StatusOK, historyFile{Entries: config.History.Recent(limit)})
		})
	}

	if config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", config.Metrics)
	}

	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("admin request")
		})
	}
}
