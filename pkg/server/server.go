package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy/handlers"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy/middleware"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/health"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/metrics"
)

// Routes served by the gateway itself.
const (
	HealthPath     = "/health"
	ExperiencePath = "/ws/experience"
	NearbyPath     = "/api/v1/locations/nearby"
)

// KBService is the service that owns experience waypoints.
const KBService = "kb"

// Options holds the components the server routes to.
type Options struct {
	Config  *config.Config
	Version string

	Forwarder  *proxy.Forwarder
	Health     *health.Checker
	Experience http.Handler

	// Cache is nil when response caching is disabled.
	Cache middleware.ResponseCache

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Server is the gateway HTTP server.
type Server struct {
	cfg        *config.Config
	opts       Options
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
}

// New builds the router. It does not listen.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		cfg:    opts.Config,
		opts:   opts,
		logger: opts.Logger.With("component", "server"),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(s.opts.Logger),
		middleware.RequestID,
		middleware.Logging(s.opts.Logger),
		middleware.CORS(s.cfg.Server.CORS),
	)

	if s.opts.Health != nil {
		r.Get(HealthPath, s.opts.Health.Handler())
	}

	limiter := middleware.NewLimiter(s.cfg.RateLimit.RequestsPerSecond, s.cfg.RateLimit.Burst)
	r.With(middleware.RateLimit(limiter)).
		Get("/", handlers.Root(s.opts.Version, s.opts.Forwarder.Table()))

	if s.opts.Experience != nil {
		r.Get(ExperiencePath, s.opts.Experience.ServeHTTP)
	}

	nearby := handlers.NewLocations(s.opts.Forwarder, KBService, s.cfg.Experience.DefaultExperience, s.opts.Logger)
	r.Get(NearbyPath, nearby.ServeHTTP)

	if m := s.cfg.Telemetry.Metrics; m.Enabled && s.opts.Metrics != nil {
		r.Handle(m.Path, s.opts.Metrics.Handler())
	}

	gateway := handlers.NewGateway(s.opts.Forwarder, s.opts.Logger)
	if s.opts.Cache != nil && s.cfg.Cache.Enabled {
		r.With(middleware.Cache(s.opts.Cache, s.cfg.Cache, s.opts.Logger)).Handle("/*", gateway)
	} else {
		r.Handle("/*", gateway)
	}

	return r
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until ctx is cancelled or the listener fails.
// Cancellation triggers a graceful Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	sc := s.cfg.Server
	ln, err := net.Listen("tcp", sc.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", sc.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    sc.ReadTimeout,
		WriteTimeout:   sc.WriteTimeout,
		IdleTimeout:    sc.IdleTimeout,
		MaxHeaderBytes: sc.MaxHeaderBytes,
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gateway", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests up
// to server.shutdown_timeout. Hijacked WebSocket connections are not
// tracked by http.Server; close them through the experience manager.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		timeout := s.cfg.Server.ShutdownTimeout
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("gateway stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}
