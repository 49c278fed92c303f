// Package telemetry groups the gateway's observability packages.
//
// # Components
//
//   - logging: slog construction, runtime level changes and attribute redaction
//   - metrics: Prometheus collectors for proxying, WebSocket sessions and the cache
//   - health: dependency aggregation for GET /health and the cron probe loop
//
// # Usage
//
//	logger, levelVar, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
//	collector := metrics.NewCollector(nil)
//	checker := health.New(cfg.Proxy.HealthTimeout)
//	prober := health.NewProber(checker, collector, logger)
//
// Every Collector method is a no-op on a nil receiver, so packages accept a
// nil collector in tests.
package telemetry
