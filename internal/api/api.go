// Package api serves the HTTP endpoints that turn requests into broker
// messages.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/miladsoleymani/jobrelay/core"
)

// Publisher sends a payload to a topic. *core.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, opts ...core.PublishOption) error
}

// RequestRecorder observes served requests. *metrics.Collector implements it.
type RequestRecorder interface {
	HTTPRequest(route string, code int)
}

// Config wires the HTTP layer.
type Config struct {
	Publisher   Publisher
	JobsTopic   string
	StatusTopic string
	Logger      *zap.Logger

	// Recorder and Metrics are optional. Metrics is mounted at /metrics.
	Recorder RequestRecorder
	Metrics  http.Handler
}

// Server holds the request handlers.
type Server struct {
	publisher   Publisher
	jobsTopic   string
	statusTopic string
	logger      *zap.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewServer creates a Server from cfg.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		publisher:   cfg.Publisher,
		jobsTopic:   cfg.JobsTopic,
		statusTopic: cfg.StatusTopic,
		logger:      logger,
		validate:    newValidator(),
		now:         time.Now,
	}
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(cfg Config) http.Handler {
	s := NewServer(cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger, cfg.Recorder))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Post("/etl/job", s.submitJob)
		r.Post("/etl/status", s.publishStatus)
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// requestLogger logs each request and reports it to rec when set.
func requestLogger(logger *zap.Logger, rec RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if rec != nil {
				rec.HTTPRequest(route, status)
			}
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
