// Package logging builds the gateway's structured logger on log/slog.
//
// New returns a JSON or text logger whose level lives in a slog.LevelVar, so
// the config watcher can change verbosity without restarting. Sensitive
// attribute keys (token, authorization, password) are redacted by the
// handler. FromContext decorates a logger with request, user and connection
// identifiers carried on a context.
package logging
