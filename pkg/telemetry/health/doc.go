// Package health aggregates dependency health for the gateway.
//
// A Checker holds one critical datastore check, one non-critical cache
// check, and any number of backend service checks. Check runs them
// concurrently, each under its own timeout, and folds the results with a
// fixed severity policy:
//
//   - datastore unhealthy: unhealthy (served with HTTP 503)
//   - cache or any service unhealthy: degraded
//   - otherwise: healthy
//
// Prober re-runs the checker on a cron schedule and publishes per-dependency
// up/down gauges.
package health
