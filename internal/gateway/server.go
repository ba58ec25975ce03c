package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mintya/autoproxy/internal/proxy"
	"github.com/mintya/autoproxy/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP gateway (component C5): the forward-proxy route
// plus the admin surface. It holds no pool-selection policy of its
// own — every forwarding decision is delegated to [proxy.Forwarder].
type Server struct {
	config      Config
	registry    *proxy.Registry
	forwarder   *proxy.Forwarder
	logger      *slog.Logger
	rateLimiter *security.RateLimiter
	auditLogger *security.AuditLogger
	counters    *requestCounters

	metricsReg *prometheus.Registry
	httpServer *http.Server
	startedAt  time.Time
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithLogger injects a structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRateLimiter injects the admin-auth throttle.
func WithRateLimiter(rl *security.RateLimiter) Option {
	return func(s *Server) { s.rateLimiter = rl }
}

// WithAuditLogger injects the admin-surface audit sink.
func WithAuditLogger(al *security.AuditLogger) Option {
	return func(s *Server) { s.auditLogger = al }
}

// NewServer builds a Server over the given Registry/Forwarder pair.
// Each Server owns its own Prometheus registry (rather than registering
// into prometheus.DefaultRegisterer) so multiple Servers can coexist in
// the same process, e.g. in tests.
func NewServer(cfg Config, registry *proxy.Registry, forwarder *proxy.Forwarder, opts ...Option) *Server {
	cfg.defaults()
	s := &Server{
		config:     cfg,
		registry:   registry,
		forwarder:  forwarder,
		logger:     slog.Default(),
		counters:   &requestCounters{},
		metricsReg: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	_ = s.metricsReg.Register(newCollector(s.registry, s.counters))
	return s
}

// buildRouter constructs the chi mux with every route wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth())
	r.Handle("/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}))

	if s.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.config.Auth, s.auditLogger, s.rateLimiter))
			r.Get("/status", s.handleStatus())
			r.Post("/status/preferred/{name}", s.handleSetPreferred())
		})
	}

	// Forward-proxy handler: catch-all, lowest route priority in chi.
	r.HandleFunc("/*", s.handleForward())

	return r
}

// Start begins listening. It returns once the listener is bound (bind
// errors surface immediately, matching spec.md §6's exit code 2); the
// serve loop itself runs in a background goroutine.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	mux := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         s.config.Bind,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.config.Bind)
	if err != nil {
		return err
	}

	go func() {
		s.logger.Info("gateway listening", "addr", s.config.Bind)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down within the configured timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("gateway shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}
