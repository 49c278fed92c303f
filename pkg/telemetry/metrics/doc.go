// Package metrics exports the gateway's Prometheus metrics: forwarded
// requests and relayed stream bytes, circuit breaker state, WebSocket
// connections and frames, NATS event delivery, response cache activity and
// dependency health.
package metrics
