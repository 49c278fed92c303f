package metrics

import "github.com/prometheus/client_golang/prometheus"

// ExperienceMetrics tracks WebSocket sessions and their bus traffic.
type ExperienceMetrics struct {
	connectionsActive prometheus.Gauge
	messagesTotal     *prometheus.CounterVec
	natsEvents        *prometheus.CounterVec
}

// NewExperienceMetrics creates and registers experience metrics.
func NewExperienceMetrics(registry *prometheus.Registry) *ExperienceMetrics {
	em := &ExperienceMetrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "experience",
			Name:      "connections_active",
			Help:      "Open experience WebSocket connections",
		}),
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "experience",
				Name:      "messages_total",
				Help:      "WebSocket frames by direction",
			},
			[]string{"direction"},
		),
		natsEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "experience",
				Name:      "nats_events_total",
				Help:      "World update events received from NATS by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(em.connectionsActive, em.messagesTotal, em.natsEvents)
	return em
}

// CacheMetrics tracks the response cache.
type CacheMetrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	invalidations prometheus.Counter
}

// NewCacheMetrics creates and registers cache metrics.
func NewCacheMetrics(registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Response cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Response cache misses",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache scope invalidations after writes",
		}),
	}

	registry.MustRegister(cm.hits, cm.misses, cm.invalidations)
	return cm
}
