// Package http serves the engine over HTTP: every path is handed to the
// sitemap, beside /health and /metrics.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aretw0/cocoon/internal/logging"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// AttributeRequestID is the request attribute holding the request id.
const AttributeRequestID = "request-id"

// Engine processes one environment; false means nothing matched.
type Engine interface {
	Process(ctx context.Context, env *domain.Environment) (bool, error)
}

// UserFunc extracts the portal user from a request. "" means anonymous.
type UserFunc func(r *http.Request) string

// Server adapts an Engine to net/http.
type Server struct {
	engine   Engine
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	user     UserFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGatherer serves metrics from g on /metrics. Default: the Prometheus
// default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithUser sets how the portal user is found.
func WithUser(fn UserFunc) Option {
	return func(s *Server) { s.user = fn }
}

// HeaderUser reads the portal user from a request header.
func HeaderUser(header string) UserFunc {
	return func(r *http.Request) string { return r.Header.Get(header) }
}

// NewHandler creates the HTTP handler for engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		engine:   engine,
		logger:   logging.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.HandleFunc("/*", s.serve)
	return r
}

type requestIDKey struct{}

// requestID reuses the incoming X-Request-Id or generates one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the request id stored in ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// serve runs the sitemap. The body is buffered so that an error raised
// halfway through a pipeline still turns into a clean 500.
func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request parameters", http.StatusBadRequest)
		s.logger.Warn("invalid request parameters", "err", err, "path", r.URL.Path)
		return
	}
	id := RequestID(r.Context())
	req := &domain.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Params:     r.Form,
		Header:     r.Header.Clone(),
		Attributes: map[string]any{AttributeRequestID: id},
	}
	var body bytes.Buffer
	env := domain.NewEnvironment(req, &body)
	if s.user != nil {
		if user := s.user(r); user != "" {
			env.SetObjectModel(domain.ObjectModelUser, user)
		}
	}

	matched, err := s.engine.Process(r.Context(), env)
	var notFound *pipeline.ResourceNotFoundError
	switch {
	case errors.As(err, &notFound):
		http.NotFound(w, r)
		return
	case err != nil:
		s.logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", id)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	case !matched:
		http.NotFound(w, r)
		return
	}

	resp := env.Response
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	if resp.Redirect != "" {
		code := http.StatusFound
		if resp.Permanent {
			code = http.StatusMovedPermanently
		}
		http.Redirect(w, r, resp.Redirect, code)
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		s.logger.Warn("response write failed", "err", err, "request_id", id)
	}
}
