package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GAIA_SECTION_FIELD (e.g., GAIA_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from defaults, which is how the
// gateway runs in containers configured purely through the environment.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = &Config{}
		ApplyDefaults(cfg)
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GAIA_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	envDuration("GAIA_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("GAIA_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("GAIA_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	envDuration("GAIA_PROXY_REQUEST_TIMEOUT", &cfg.Proxy.RequestTimeout)
	envDuration("GAIA_PROXY_HEALTH_TIMEOUT", &cfg.Proxy.HealthTimeout)
	if val := os.Getenv("GAIA_PROXY_STREAM_BUFFER_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Proxy.StreamBufferSize = i
		}
	}

	// Service URLs use the deployment's historical variable names.
	for name, key := range map[string]string{
		"auth":  "AUTH_SERVICE_URL",
		"asset": "ASSET_SERVICE_URL",
		"chat":  "CHAT_SERVICE_URL",
		"kb":    "KB_SERVICE_URL",
	} {
		if val := os.Getenv(key); val != "" {
			if cfg.Services == nil {
				cfg.Services = make(map[string]string)
			}
			cfg.Services[name] = val
		}
	}

	if val := os.Getenv("NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv("GAIA_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}

	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Database.URL = val
		if cfg.Database.Backend == DefaultDatabaseBackend {
			cfg.Database.Backend = "postgres"
		}
	}
	if val := os.Getenv("GAIA_DATABASE_BACKEND"); val != "" {
		cfg.Database.Backend = val
	}
	if val := os.Getenv("GAIA_DATABASE_SQLITE_PATH"); val != "" {
		cfg.Database.SQLitePath = val
	}

	if val := os.Getenv("REDIS_URL"); val != "" {
		cfg.Redis.URL = val
	}
	if val := os.Getenv("GAIA_CACHE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Cache.Enabled = b
		}
	}

	if val := os.Getenv("JWT_SECRET"); val != "" {
		cfg.Auth.JWTSecret = val
	}
	if val := os.Getenv("GAIA_AUTH_JWT_SECRET"); val != "" {
		cfg.Auth.JWTSecret = val
	}

	if val := os.Getenv("GAIA_EXPERIENCE_RESPONDER"); val != "" {
		cfg.Experience.Responder = val
	}
	if val := os.Getenv("GAIA_EXPERIENCE_DEFAULT"); val != "" {
		cfg.Experience.DefaultExperience = val
	}

	if val := os.Getenv("GAIA_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("GAIA_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
