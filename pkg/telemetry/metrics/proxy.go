package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProxyMetrics tracks forwarded requests.
//
// Metrics:
//   - gaia_proxy_requests_total{service,outcome}
//   - gaia_proxy_request_duration_seconds{service}
//   - gaia_proxy_stream_bytes_total{service}
//   - gaia_proxy_breaker_state{service}
type ProxyMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	streamBytes     *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// NewProxyMetrics creates and registers proxy metrics.
func NewProxyMetrics(registry *prometheus.Registry) *ProxyMetrics {
	pm := &ProxyMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of requests forwarded to backend services",
			},
			[]string{"service", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Time until upstream response headers, in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service"},
		),
		streamBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "stream_bytes_total",
				Help:      "Bytes relayed through SSE pass-through",
			},
			[]string{"service"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
			},
			[]string{"service"},
		),
	}

	registry.MustRegister(pm.requestsTotal, pm.requestDuration, pm.streamBytes, pm.breakerState)
	return pm
}
