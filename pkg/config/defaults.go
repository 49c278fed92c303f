package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "0.0.0.0:8666"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// CORS defaults
	DefaultCORSEnabled = true
	DefaultCORSMaxAge  = 3600 // 1 hour

	// Proxy defaults
	DefaultRequestTimeout        = 30 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultConnectTimeout        = 5 * time.Second
	DefaultStreamBufferSize      = 4096
	DefaultMaxIdleConnsPerHost   = 32
	DefaultHealthTimeout         = 15 * time.Second
	DefaultBreakerFailures       = 5
	DefaultBreakerOpenTimeout    = 30 * time.Second

	// NATS defaults
	DefaultNATSName           = "gaia-gateway"
	DefaultNATSReconnectWait  = 2 * time.Second
	DefaultNATSMaxReconnects  = -1
	DefaultNATSRequestTimeout = 5 * time.Second

	// Database defaults
	DefaultDatabaseBackend  = "memory"
	DefaultDatabaseMaxConns = 10
	DefaultSQLitePath       = "data/worldstate.db"
	DefaultBusyTimeout      = 5 * time.Second

	// Redis defaults
	DefaultRedisDialTimeout = 5 * time.Second

	// Experience defaults
	DefaultExperience        = "wylding-woods"
	DefaultBottlesTotal      = 7
	DefaultQuestID           = "bottle_quest"
	DefaultNPCID             = "louisa"
	DefaultVoice             = "default"
	DefaultResponder         = "scripted"
	DefaultChatPath          = "/chat/stream"
	DefaultStreamIdleTimeout = 30 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPongWait          = 60 * time.Second
	DefaultWriteWait         = 10 * time.Second
	DefaultMaxMessageBytes   = 65536

	// Cache defaults
	DefaultCacheTTL          = 60 * time.Second
	DefaultCacheMaxBodyBytes = 1048576

	// Rate limit defaults
	DefaultRateLimitRPS   = 10.0
	DefaultRateLimitBurst = 20

	// Telemetry defaults
	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "json"
	DefaultMetricsPath   = "/metrics"
	DefaultProbeSchedule = "@every 30s"
)

// DefaultServices is the service table used when none is configured.
func DefaultServices() map[string]string {
	return map[string]string{
		"auth":    "http://auth-service:8000",
		"asset":   "http://asset-service:8000",
		"chat":    "http://chat-service:8000",
		"kb":      "http://kb-service:8000",
		"gateway": "http://localhost:8666",
	}
}

// DefaultRoutes is the prefix table used when none is configured.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Prefix: "/api/v1/auth", Service: "auth"},
		{Prefix: "/api/v1/assets", Service: "asset"},
		{Prefix: "/api/v1/chat", Service: "chat"},
		{Prefix: "/api/v1/kb", Service: "kb"},
		{Prefix: "/api/v0.3/chat", Service: "chat"},
	}
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	applyCORSDefaults(cfg)

	// Proxy defaults
	if cfg.Proxy.RequestTimeout == 0 {
		cfg.Proxy.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Proxy.ResponseHeaderTimeout == 0 {
		cfg.Proxy.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	}
	if cfg.Proxy.ConnectTimeout == 0 {
		cfg.Proxy.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Proxy.StreamBufferSize == 0 {
		cfg.Proxy.StreamBufferSize = DefaultStreamBufferSize
	}
	if cfg.Proxy.MaxIdleConnsPerHost == 0 {
		cfg.Proxy.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if cfg.Proxy.HealthTimeout == 0 {
		cfg.Proxy.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.Proxy.Breaker.ConsecutiveFailures == 0 {
		cfg.Proxy.Breaker.Enabled = true
		cfg.Proxy.Breaker.ConsecutiveFailures = DefaultBreakerFailures
	}
	if cfg.Proxy.Breaker.OpenTimeout == 0 {
		cfg.Proxy.Breaker.OpenTimeout = DefaultBreakerOpenTimeout
	}

	// Service table
	if len(cfg.Services) == 0 {
		cfg.Services = DefaultServices()
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = DefaultRoutes()
	}

	// NATS defaults
	if cfg.NATS.Name == "" {
		cfg.NATS.Name = DefaultNATSName
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = DefaultNATSReconnectWait
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = DefaultNATSMaxReconnects
	}
	if cfg.NATS.RequestTimeout == 0 {
		cfg.NATS.RequestTimeout = DefaultNATSRequestTimeout
	}

	// Database defaults
	if cfg.Database.Backend == "" {
		cfg.Database.Backend = DefaultDatabaseBackend
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDatabaseMaxConns
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = DefaultSQLitePath
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = DefaultBusyTimeout
	}

	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = DefaultRedisDialTimeout
	}

	applyExperienceDefaults(&cfg.Experience)

	// Cache defaults
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.MaxBodyBytes == 0 {
		cfg.Cache.MaxBodyBytes = DefaultCacheMaxBodyBytes
	}

	// Rate limit defaults
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = DefaultRateLimitRPS
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = DefaultRateLimitBurst
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Enabled = true
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Health.ProbeSchedule == "" {
		cfg.Telemetry.Health.ProbeSchedule = DefaultProbeSchedule
	}
}

func applyExperienceDefaults(exp *ExperienceConfig) {
	if exp.DefaultExperience == "" {
		exp.DefaultExperience = DefaultExperience
	}
	if exp.BottlesTotal == 0 {
		exp.BottlesTotal = DefaultBottlesTotal
	}
	if exp.QuestID == "" {
		exp.QuestID = DefaultQuestID
	}
	if exp.NPCID == "" {
		exp.NPCID = DefaultNPCID
	}
	if exp.Voice == "" {
		exp.Voice = DefaultVoice
	}
	if exp.Responder == "" {
		exp.Responder = DefaultResponder
	}
	if exp.ChatPath == "" {
		exp.ChatPath = DefaultChatPath
	}
	if exp.StreamIdleTimeout == 0 {
		exp.StreamIdleTimeout = DefaultStreamIdleTimeout
	}
	if exp.PingInterval == 0 {
		exp.PingInterval = DefaultPingInterval
	}
	if exp.PongWait == 0 {
		exp.PongWait = DefaultPongWait
	}
	if exp.WriteWait == 0 {
		exp.WriteWait = DefaultWriteWait
	}
	if exp.MaxMessageBytes == 0 {
		exp.MaxMessageBytes = DefaultMaxMessageBytes
	}
}

// applyCORSDefaults applies default values to CORS configuration.
func applyCORSDefaults(cfg *Config) {
	cors := &cfg.Server.CORS

	if !cors.Enabled {
		// Any explicit CORS field means the user configured CORS on purpose.
		hasAnyConfig := len(cors.AllowedOrigins) > 0 ||
			len(cors.AllowedMethods) > 0 ||
			len(cors.AllowedHeaders) > 0 ||
			len(cors.ExposedHeaders) > 0 ||
			cors.MaxAge > 0

		if !hasAnyConfig {
			cors.Enabled = DefaultCORSEnabled
		}
	}

	if len(cors.AllowedOrigins) == 0 {
		cors.AllowedOrigins = []string{"*"}
	}
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID", "X-API-Key"}
	}
	if len(cors.ExposedHeaders) == 0 {
		cors.ExposedHeaders = []string{"X-Request-ID"}
	}
	if cors.MaxAge == 0 {
		cors.MaxAge = DefaultCORSMaxAge
	}
}
