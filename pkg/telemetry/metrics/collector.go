package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "gaia"

// Collector owns every Prometheus metric the gateway exports. A nil
// *Collector is valid and records nothing, which keeps metric calls out of
// the way in tests and in components built without telemetry.
type Collector struct {
	registry *prometheus.Registry

	proxy      *ProxyMetrics
	experience *ExperienceMetrics
	cache      *CacheMetrics

	dependencyUp *prometheus.GaugeVec
}

// NewCollector creates a collector and registers all metrics with registry.
// A nil registry gets a fresh one with Go runtime and process collectors.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry:   registry,
		proxy:      NewProxyMetrics(registry),
		experience: NewExperienceMetrics(registry),
		cache:      NewCacheMetrics(registry),
		dependencyUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dependency_up",
				Help:      "Whether a dependency passed its last health probe (1) or not (0)",
			},
			[]string{"name"},
		),
	}
	registry.MustRegister(c.dependencyUp)

	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordProxyRequest records one forwarded request. outcome is one of
// json, raw, stream, no_content, not_found, upstream_error, unavailable,
// contract_violation or cancelled.
func (c *Collector) RecordProxyRequest(service, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.proxy.requestsTotal.WithLabelValues(service, outcome).Inc()
	c.proxy.requestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordStreamBytes adds relayed SSE bytes for service.
func (c *Collector) RecordStreamBytes(service string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.proxy.streamBytes.WithLabelValues(service).Add(float64(n))
}

// SetBreakerState records a circuit breaker transition (0 closed, 1 half-open, 2 open).
func (c *Collector) SetBreakerState(service string, state int) {
	if c == nil {
		return
	}
	c.proxy.breakerState.WithLabelValues(service).Set(float64(state))
}

// ConnectionOpened increments the active WebSocket gauge.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.experience.connectionsActive.Inc()
}

// ConnectionClosed decrements the active WebSocket gauge.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.experience.connectionsActive.Dec()
}

// RecordMessage counts a WebSocket frame; direction is "in" or "out".
func (c *Collector) RecordMessage(direction string) {
	if c == nil {
		return
	}
	c.experience.messagesTotal.WithLabelValues(direction).Inc()
}

// RecordNATSEvent counts a bus event; result is delivered, dropped or invalid.
func (c *Collector) RecordNATSEvent(result string) {
	if c == nil {
		return
	}
	c.experience.natsEvents.WithLabelValues(result).Inc()
}

// RecordCacheLookup counts a response cache lookup.
func (c *Collector) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.cache.hits.Inc()
	} else {
		c.cache.misses.Inc()
	}
}

// RecordCacheInvalidation counts scope invalidations.
func (c *Collector) RecordCacheInvalidation() {
	if c == nil {
		return
	}
	c.cache.invalidations.Inc()
}

// SetDependencyUp records the latest probe result for a dependency.
func (c *Collector) SetDependencyUp(name string, up bool) {
	if c == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.dependencyUp.WithLabelValues(name).Set(v)
}
