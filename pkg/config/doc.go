// Package config provides configuration management for the Gaia gateway.
//
// Configuration is read from a YAML file, filled in with defaults, overridden
// from the environment and validated. All validation errors are collected
// into a single ValidationError.
//
// # Environment Variable Overrides
//
// Gateway settings follow GAIA_SECTION_FIELD (for example
// GAIA_SERVER_LISTEN_ADDRESS or GAIA_TELEMETRY_LOGGING_LEVEL). Backing
// services keep the deployment's established names: AUTH_SERVICE_URL,
// ASSET_SERVICE_URL, CHAT_SERVICE_URL, KB_SERVICE_URL, NATS_URL,
// DATABASE_URL, REDIS_URL and JWT_SECRET.
//
// # Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and delivers each
// valid reload to a callback. Only the log level is applied at runtime; the
// service and route tables are fixed for the life of the process.
package config
