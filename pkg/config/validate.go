package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateServices(cfg.Services, cfg.Routes)...)
	errs = append(errs, validateNATS(&cfg.NATS)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateRedis(&cfg.Redis, &cfg.Cache)...)
	errs = append(errs, validateExperience(&cfg.Experience)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if cfg.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, FieldError{
			Field:   "rate_limit.requests_per_second",
			Message: "must be non-negative",
		})
	}
	if cfg.RateLimit.Burst < 0 {
		errs = append(errs, FieldError{
			Field:   "rate_limit.burst",
			Message: "must be non-negative",
		})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes < 0 || cfg.MaxHeaderBytes > 10*1024*1024 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be between 0 and 10MB",
		})
	}

	return errs
}

func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	if cfg.RequestTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.request_timeout",
			Message: "request timeout must be positive",
		})
	}
	if cfg.HealthTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.health_timeout",
			Message: "health timeout must be positive",
		})
	}
	if cfg.StreamBufferSize < 64 {
		errs = append(errs, FieldError{
			Field:   "proxy.stream_buffer_size",
			Message: "stream buffer size must be at least 64 bytes",
		})
	}

	return errs
}

func validateServices(services map[string]string, routes []RouteConfig) []FieldError {
	var errs []FieldError

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		u, err := url.Parse(services[name])
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("services.%s", name),
				Message: fmt.Sprintf("invalid base URL %q", services[name]),
			})
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("services.%s", name),
				Message: "base URL must use http or https",
			})
		}
	}

	for i, r := range routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("routes[%d].prefix", i),
				Message: "prefix must start with /",
			})
		}
		if _, ok := services[r.Service]; !ok {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("routes[%d].service", i),
				Message: fmt.Sprintf("unknown service %q", r.Service),
			})
		}
	}

	return errs
}

func validateNATS(cfg *NATSConfig) []FieldError {
	if cfg.URL == "" {
		return nil
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "nats" && u.Scheme != "tls" && u.Scheme != "ws" && u.Scheme != "wss") {
		return []FieldError{{
			Field:   "nats.url",
			Message: fmt.Sprintf("invalid NATS URL %q", cfg.URL),
		}}
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLitePath == "" {
			errs = append(errs, FieldError{
				Field:   "database.sqlite_path",
				Message: "sqlite path is required for the sqlite backend",
			})
		}
	case "postgres":
		if cfg.URL == "" {
			errs = append(errs, FieldError{
				Field:   "database.url",
				Message: "url is required for the postgres backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "database.backend",
			Message: fmt.Sprintf("unsupported backend %q (expected memory, sqlite or postgres)", cfg.Backend),
		})
	}
	if cfg.MaxConns < 0 {
		errs = append(errs, FieldError{
			Field:   "database.max_conns",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateRedis(redisCfg *RedisConfig, cacheCfg *CacheConfig) []FieldError {
	var errs []FieldError

	if redisCfg.URL != "" {
		u, err := url.Parse(redisCfg.URL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, FieldError{
				Field:   "redis.url",
				Message: fmt.Sprintf("invalid redis URL %q", redisCfg.URL),
			})
		}
	}
	if cacheCfg.Enabled && redisCfg.URL == "" {
		errs = append(errs, FieldError{
			Field:   "cache.enabled",
			Message: "cache requires redis.url",
		})
	}
	if cacheCfg.TTL < 0 {
		errs = append(errs, FieldError{
			Field:   "cache.ttl",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateExperience(cfg *ExperienceConfig) []FieldError {
	var errs []FieldError

	if cfg.BottlesTotal <= 0 {
		errs = append(errs, FieldError{
			Field:   "experience.bottles_total",
			Message: "must be positive",
		})
	}
	if cfg.Responder != "scripted" && cfg.Responder != "chat_service" {
		errs = append(errs, FieldError{
			Field:   "experience.responder",
			Message: fmt.Sprintf("unsupported responder %q (expected scripted or chat_service)", cfg.Responder),
		})
	}
	if cfg.PongWait <= cfg.PingInterval {
		errs = append(errs, FieldError{
			Field:   "experience.pong_wait",
			Message: "pong wait must exceed ping interval",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q", cfg.Logging.Level),
		})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q", cfg.Logging.Format),
		})
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "path must start with /",
		})
	}
	if cfg.Health.ProbeSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Health.ProbeSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.probe_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errs
}
