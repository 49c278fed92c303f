package config

import "time"

// Config is the root configuration structure for the Gaia gateway.
// It contains the HTTP server settings, the backend service table,
// the proxy and real-time experience settings, backing stores, and telemetry.
type Config struct {
	// Server contains HTTP listener configuration including listen address,
	// timeouts, and CORS.
	Server ServerConfig `yaml:"server"`

	// Proxy contains the forwarding behavior for backend services.
	Proxy ProxyConfig `yaml:"proxy"`

	// Services maps a logical service name (auth, asset, chat, kb, gateway)
	// to its base URL. The table is immutable after startup.
	Services map[string]string `yaml:"services"`

	// Routes maps inbound path prefixes to services. The longest matching
	// prefix wins.
	Routes []RouteConfig `yaml:"routes"`

	// NATS contains the message bus connection settings.
	NATS NATSConfig `yaml:"nats"`

	// Database contains the world state store settings.
	Database DatabaseConfig `yaml:"database"`

	// Redis contains the cache connection settings.
	Redis RedisConfig `yaml:"redis"`

	// Auth contains JWT validation settings for WebSocket clients.
	Auth AuthConfig `yaml:"auth"`

	// Experience contains settings for the real-time experience WebSocket.
	Experience ExperienceConfig `yaml:"experience"`

	// Cache contains the response cache settings.
	Cache CacheConfig `yaml:"cache"`

	// RateLimit contains limits for unauthenticated endpoints.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Telemetry contains logging, metrics and health probe configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "0.0.0.0:8666"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writes. Zero disables it, which is
	// required for long-lived SSE relays and WebSockets.
	// Default: 0
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// ProxyConfig controls how requests are forwarded to backend services.
type ProxyConfig struct {
	// RequestTimeout bounds buffered upstream calls. Streaming calls are
	// bounded by ResponseHeaderTimeout instead so that the stream body
	// itself is not cut off.
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ResponseHeaderTimeout bounds the wait for upstream response headers.
	// Default: 30s
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`

	// ConnectTimeout bounds TCP connection establishment.
	// Default: 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// StreamBufferSize is the read buffer size used for SSE pass-through.
	// Default: 4096
	StreamBufferSize int `yaml:"stream_buffer_size"`

	// MaxIdleConnsPerHost sizes the shared connection pool.
	// Default: 32
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// HealthTimeout is the per-service ceiling for /health probes.
	// Default: 15s
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// Breaker configures the per-service circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the per-service circuit breaker.
type BreakerConfig struct {
	// Enabled turns the breaker on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ConsecutiveFailures opens the breaker after this many connectivity
	// failures in a row.
	// Default: 5
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`

	// OpenTimeout is how long the breaker stays open before probing again.
	// Default: 30s
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// RouteConfig binds an inbound path prefix to a backend service.
type RouteConfig struct {
	// Prefix is matched against the request path.
	Prefix string `yaml:"prefix"`

	// Service is a key of Config.Services.
	Service string `yaml:"service"`

	// StripPrefix removes Prefix from the path before forwarding.
	StripPrefix bool `yaml:"strip_prefix"`

	// Stream marks every request on this route as streaming intent.
	Stream bool `yaml:"stream"`
}

// NATSConfig configures the message bus connection.
type NATSConfig struct {
	// URL is the NATS server URL. Empty disables real-time push.
	URL string `yaml:"url"`

	// Name is the client connection name.
	// Default: "gaia-gateway"
	Name string `yaml:"name"`

	// ReconnectWait is the delay between reconnect attempts.
	// Default: 2s
	ReconnectWait time.Duration `yaml:"reconnect_wait"`

	// MaxReconnects is the reconnect attempt cap; -1 means forever.
	// Default: -1
	MaxReconnects int `yaml:"max_reconnects"`

	// RequestTimeout bounds request/reply calls.
	// Default: 5s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig configures the world state store.
type DatabaseConfig struct {
	// Backend is "memory", "sqlite" or "postgres".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// URL is the Postgres connection string.
	URL string `yaml:"url"`

	// MaxConns caps the Postgres pool.
	// Default: 10
	MaxConns int32 `yaml:"max_conns"`

	// SQLitePath is the database file path for the sqlite backend.
	// Default: "data/worldstate.db"
	SQLitePath string `yaml:"sqlite_path"`

	// BusyTimeout is the sqlite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RedisConfig configures the cache connection.
type RedisConfig struct {
	// URL is a redis:// URL. Empty disables the cache.
	URL string `yaml:"url"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// AuthConfig configures JWT validation.
type AuthConfig struct {
	// JWTSecret is the HMAC secret used to verify tokens.
	JWTSecret string `yaml:"jwt_secret"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `yaml:"issuer"`

	// Audience, when set, must be present in the token's aud claim.
	Audience string `yaml:"audience"`
}

// ExperienceConfig configures the real-time experience WebSocket.
type ExperienceConfig struct {
	// DefaultExperience is used when the client omits ?experience=.
	// Default: "wylding-woods"
	DefaultExperience string `yaml:"default_experience"`

	// BottlesTotal is the number of bottles in the collection quest.
	// Default: 7
	BottlesTotal int `yaml:"bottles_total"`

	// QuestID names the bottle collection quest.
	// Default: "bottle_quest"
	QuestID string `yaml:"quest_id"`

	// NPCID and Voice are stamped onto npc_speech frames.
	// Defaults: "louisa", "default"
	NPCID string `yaml:"npc_id"`
	Voice string `yaml:"voice"`

	// Responder selects the chat backend: "scripted" or "chat_service".
	// Default: "scripted"
	Responder string `yaml:"responder"`

	// ChatPath is the chat service streaming endpoint.
	// Default: "/chat/stream"
	ChatPath string `yaml:"chat_path"`

	// StreamIdleTimeout ends a merged chat stream after this much silence.
	// Default: 30s
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`

	// PingInterval, PongWait and WriteWait control socket keepalive.
	// Defaults: 30s, 60s, 10s
	PingInterval time.Duration `yaml:"ping_interval"`
	PongWait     time.Duration `yaml:"pong_wait"`
	WriteWait    time.Duration `yaml:"write_wait"`

	// MaxMessageBytes caps inbound frame size.
	// Default: 65536
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// AllowedOrigins restricts the WebSocket Origin header. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// Enabled turns on caching of buffered GET responses.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// TTL is the cache entry lifetime.
	// Default: 60s
	TTL time.Duration `yaml:"ttl"`

	// MaxBodyBytes is the largest response body that is cached.
	// Default: 1048576
	MaxBodyBytes int `yaml:"max_body_bytes"`

	// Prefixes limits caching to these path prefixes. Empty caches nothing.
	Prefixes []string `yaml:"prefixes"`
}

// RateLimitConfig limits unauthenticated endpoints per client IP.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate.
	// Default: 10
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket capacity.
	// Default: 20
	Burst int64 `yaml:"burst"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Hot-reloadable.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled exposes /metrics.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the metrics endpoint path.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// HealthConfig configures background dependency probes.
type HealthConfig struct {
	// ProbeSchedule is a cron expression for dependency probes that feed
	// the gaia_dependency_up gauge. Empty disables probing.
	// Default: "@every 30s"
	ProbeSchedule string `yaml:"probe_schedule"`
}
