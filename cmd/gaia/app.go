package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/Aeonia-ai/gaia-sub004/pkg/auth"
	"github.com/Aeonia-ai/gaia-sub004/pkg/cache"
	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/experience"
	"github.com/Aeonia-ai/gaia-sub004/pkg/natsclient"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy/middleware"
	"github.com/Aeonia-ai/gaia-sub004/pkg/server"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/health"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/logging"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/metrics"
	"github.com/Aeonia-ai/gaia-sub004/pkg/worldstate"
)

// chatService is the service the chat_service responder streams from.
const chatService = "chat"

// app owns every long-lived component of a running gateway.
type app struct {
	logger   *slog.Logger
	levelVar *slog.LevelVar

	mu  sync.Mutex
	cfg *config.Config

	metrics   *metrics.Collector
	bus       *natsclient.Client
	store     worldstate.Store
	cache     *cache.Cache
	forwarder *proxy.Forwarder
	checker   *health.Checker
	prober    *health.Prober
	manager   *experience.Manager
	server    *server.Server
}

// newApp connects the backing stores and assembles the server. NATS and
// Redis failures degrade the gateway instead of stopping it; a world state
// store that cannot be opened is fatal.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, levelVar *slog.LevelVar) (*app, error) {
	a := &app{
		logger:   logger,
		levelVar: levelVar,
		cfg:      cfg,
		metrics:  metrics.NewCollector(nil),
	}

	table, err := proxy.NewTable(cfg.Services, cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}
	a.forwarder = proxy.NewForwarder(table, proxy.OptionsFromConfig(cfg.Proxy), logger, a.metrics)

	a.store, err = worldstate.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open world state store: %w", err)
	}
	logger.Info("world state store opened", "backend", cfg.Database.Backend)

	// Interface values stay nil unless the client really exists.
	var (
		bus       experience.EventBus
		publisher experience.Publisher
	)
	if cfg.NATS.URL != "" {
		client := natsclient.New(natsclient.Options{
			URL:            cfg.NATS.URL,
			Name:           cfg.NATS.Name,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			RequestTimeout: cfg.NATS.RequestTimeout,
		}, logger)
		if err := client.Connect(ctx); err != nil {
			logger.Warn("nats unavailable, real-time updates disabled", "error", err)
		} else {
			a.bus = client
			bus, publisher = client, client
		}
	} else {
		logger.Info("nats not configured, real-time updates disabled")
	}

	a.checker = health.New(cfg.Proxy.HealthTimeout)
	for _, name := range table.Services() {
		a.checker.RegisterService(name, a.forwarder.HealthCheck(name))
	}
	a.checker.SetDatastore(a.store.Ping)

	var responseCache middleware.ResponseCache
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Redis, cfg.Cache, logger, a.metrics)
		if err != nil {
			logger.Warn("redis unavailable, response cache disabled", "error", err)
			a.checker.SetCache(func(context.Context) error { return err })
		} else {
			a.cache = c
			responseCache = c
			a.checker.SetCache(c.Ping)
		}
	}

	a.prober = health.NewProber(a.checker, a.metrics, logger)
	a.manager = experience.NewManager(bus, a.store, logger, a.metrics)

	wsHandler := experience.NewHandler(experience.HandlerOptions{
		Manager:   a.manager,
		Validator: auth.NewValidator(cfg.Auth),
		Store:     a.store,
		Publisher: publisher,
		Responder: newResponder(cfg.Experience, a.forwarder),
		Config:    cfg.Experience,
		Logger:    logger,
	})

	a.server = server.New(server.Options{
		Config:     cfg,
		Version:    Version,
		Forwarder:  a.forwarder,
		Health:     a.checker,
		Experience: wsHandler,
		Cache:      responseCache,
		Metrics:    a.metrics,
		Logger:     logger,
	})

	return a, nil
}

func newResponder(cfg config.ExperienceConfig, fwd *proxy.Forwarder) experience.Responder {
	if cfg.Responder == "chat_service" {
		return experience.ChatServiceResponder{
			Forwarder: fwd,
			Service:   chatService,
			Path:      cfg.ChatPath,
		}
	}
	return experience.ScriptedResponder{}
}

// run serves until ctx is cancelled, then drains WebSockets and releases
// every backing connection.
func (a *app) run(ctx context.Context) error {
	cfg := a.config()

	if err := a.prober.Start(ctx, cfg.Telemetry.Health.ProbeSchedule); err != nil {
		a.close(context.Background())
		return err
	}

	serveErr := a.server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	a.close(shutdownCtx)

	return serveErr
}

// close tears down in dependency order: sockets first, then the prober,
// then the bus and stores they use.
func (a *app) close(ctx context.Context) {
	if n := a.manager.ConnectionCount(); n > 0 {
		a.logger.Info("closing experience connections", "count", n)
	}
	a.manager.CloseAll(ctx)
	a.prober.Stop()

	var errs []error
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("nats: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("world state: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("error releasing resources", "error", err)
	}
}

func (a *app) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// applyConfig takes a reloaded configuration. Only the log level changes
// at runtime; anything else takes effect on restart.
func (a *app) applyConfig(next *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = next
	a.mu.Unlock()

	config.SetConfig(next)

	if next.Telemetry.Logging.Level != prev.Telemetry.Logging.Level {
		if err := logging.SetLevel(a.levelVar, next.Telemetry.Logging.Level); err != nil {
			a.logger.Warn("ignoring log level from reloaded config", "error", err)
		} else {
			a.logger.Info("log level changed", "level", next.Telemetry.Logging.Level)
		}
	}

	for _, section := range restartOnly(prev, next) {
		a.logger.Warn("config change requires a restart", "section", section)
	}
}

// restartOnly lists the changed sections that cannot be applied live.
func restartOnly(prev, next *config.Config) []string {
	var changed []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			changed = append(changed, name)
		}
	}
	check("server", prev.Server, next.Server)
	check("proxy", prev.Proxy, next.Proxy)
	check("services", prev.Services, next.Services)
	check("routes", prev.Routes, next.Routes)
	check("nats", prev.NATS, next.NATS)
	check("database", prev.Database, next.Database)
	check("redis", prev.Redis, next.Redis)
	check("auth", prev.Auth, next.Auth)
	check("experience", prev.Experience, next.Experience)
	check("cache", prev.Cache, next.Cache)
	check("rate_limit", prev.RateLimit, next.RateLimit)
	return changed
}
