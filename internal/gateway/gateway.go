// Package gateway exposes the dispatch manager over HTTP: streaming
// generation (SSE and WebSocket), health and status views, Prometheus
// metrics, and provider administration.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gantryio/gantry/internal/config"
	"github.com/gantryio/gantry/internal/provider"
	"github.com/gantryio/gantry/internal/usage"
)

// Generator is the dispatch surface the gateway serves. *provider.Manager
// implements it.
type Generator interface {
	Generate(ctx context.Context, req provider.Request) (<-chan provider.Event, error)
	Snapshot() []provider.ProviderStatus
	SetEnabled(id string, enabled bool) error
}

// UsageSource exposes ledger aggregates for the status endpoint.
type UsageSource interface {
	Totals(ctx context.Context, since time.Time) ([]usage.ProviderTotals, error)
}

// Server is the HTTP gateway. It is a thin shell over a Generator; it holds
// no session state of its own.
type Server struct {
	cfg       config.GatewayConfig
	logger    *slog.Logger
	generator Generator
	usage     UsageSource
	registry  *prometheus.Registry

	server    *http.Server
	startedAt time.Time
	now       func() time.Time
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithLogger injects a structured logger. When nil or omitted, log output is
// discarded.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithUsageSource wires the token-usage ledger into the status endpoint.
func WithUsageSource(u UsageSource) Option {
	return func(s *Server) { s.usage = u }
}

// WithMetricsRegistry mounts /metrics serving the given registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// New creates a gateway server for the given generator.
func New(cfg config.GatewayConfig, gen Generator, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		generator: gen,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(nopHandler{})
	}
	return s
}

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public, no auth required.
	r.Get("/health", s.handleHealth())

	r.Group(func(r chi.Router) {
		if s.cfg.BearerToken != "" {
			r.Use(bearerAuth(s.cfg.BearerToken))
		}

		r.Post("/v1/generate", s.handleGenerate())
		r.Get("/v1/stream", s.handleStream())
		r.Get("/status", s.handleStatus())
		r.Post("/v1/providers/{id}/enabled", s.handleSetEnabled())

		if s.registry != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		}
	})

	return r
}

// Start begins serving on the configured bind address. It returns once the
// listener is established; serving continues in the background.
func (s *Server) Start() error {
	s.startedAt = s.now()

	s.server = &http.Server{
		Addr:         s.cfg.Bind,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.cfg.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Bind)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("gateway shutting down")
	return s.server.Shutdown(shutdownCtx)
}

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
