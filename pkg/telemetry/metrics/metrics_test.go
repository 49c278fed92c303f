package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordProxyRequest("chat", "stream", 120*time.Millisecond)
	c.RecordProxyRequest("chat", "stream", 80*time.Millisecond)
	c.RecordStreamBytes("chat", 42)
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.RecordMessage("in")
	c.RecordNATSEvent("dropped")
	c.RecordCacheLookup(true)
	c.SetDependencyUp("database", true)

	if got := testutil.ToFloat64(c.proxy.requestsTotal.WithLabelValues("chat", "stream")); got != 2 {
		t.Errorf("requests_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.proxy.streamBytes.WithLabelValues("chat")); got != 42 {
		t.Errorf("stream_bytes_total = %v, want 42", got)
	}
	if got := testutil.ToFloat64(c.experience.connectionsActive); got != 1 {
		t.Errorf("connections_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.experience.natsEvents.WithLabelValues("dropped")); got != 1 {
		t.Errorf("nats_events_total{dropped} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.dependencyUp.WithLabelValues("database")); got != 1 {
		t.Errorf("dependency_up = %v, want 1", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.RecordProxyRequest("chat", "json", time.Second)
	c.ConnectionOpened()
	c.RecordNATSEvent("delivered")
	c.SetDependencyUp("cache", false)
	if c.Registry() != nil {
		t.Error("nil collector should have nil registry")
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	c := NewCollector(nil)
	c.RecordProxyRequest("kb", "json", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "gaia_proxy_requests_total") {
		t.Errorf("expected gaia_proxy_requests_total in output")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("expected runtime collectors in default registry")
	}
}
