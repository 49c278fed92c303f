package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func fail(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func TestNew_DefaultTimeout(t *testing.T) {
	if got := New(0).checkTimeout; got != 15*time.Second {
		t.Errorf("expected 15s default, got %v", got)
	}
	if got := New(time.Second).checkTimeout; got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
}

func TestCheck_SeverityPolicy(t *testing.T) {
	tests := []struct {
		name      string
		datastore CheckFunc
		cache     CheckFunc
		services  map[string]CheckFunc
		want      string
	}{
		{
			name:      "all healthy",
			datastore: ok,
			cache:     ok,
			services:  map[string]CheckFunc{"chat": ok, "kb": ok},
			want:      StatusHealthy,
		},
		{
			name:      "cache down is degraded",
			datastore: ok,
			cache:     fail("connection refused"),
			services:  map[string]CheckFunc{"chat": ok},
			want:      StatusDegraded,
		},
		{
			name:      "service down is degraded",
			datastore: ok,
			cache:     ok,
			services:  map[string]CheckFunc{"chat": ok, "asset": fail("503")},
			want:      StatusDegraded,
		},
		{
			name:      "datastore down is unhealthy",
			datastore: fail("pool exhausted"),
			cache:     ok,
			services:  map[string]CheckFunc{"chat": ok},
			want:      StatusUnhealthy,
		},
		{
			name:      "datastore down wins over cache down",
			datastore: fail("down"),
			cache:     fail("down"),
			want:      StatusUnhealthy,
		},
		{
			name: "nothing configured",
			want: StatusHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			if tt.datastore != nil {
				c.SetDatastore(tt.datastore)
			}
			if tt.cache != nil {
				c.SetCache(tt.cache)
			}
			for name, fn := range tt.services {
				c.RegisterService(name, fn)
			}

			report := c.Check(context.Background())
			if report.Status != tt.want {
				t.Errorf("status = %q, want %q", report.Status, tt.want)
			}
			if len(report.Services) != len(tt.services) {
				t.Errorf("expected %d service results, got %d", len(tt.services), len(report.Services))
			}
		})
	}
}

func TestCheck_ReportsErrorsAndResponseTime(t *testing.T) {
	c := New(time.Second)
	c.SetDatastore(ok)
	c.RegisterService("chat", ok)
	c.RegisterService("kb", fail("dial tcp: connection refused"))

	report := c.Check(context.Background())

	if report.Services["chat"].ResponseTime == "" {
		t.Error("healthy service should report response_time")
	}
	if report.Services["kb"].Error != "dial tcp: connection refused" {
		t.Errorf("unexpected kb error: %q", report.Services["kb"].Error)
	}
	if report.Services["kb"].ResponseTime != "" {
		t.Error("unhealthy service should not report response_time")
	}
}

func TestCheck_TimeoutBoundsSlowChecks(t *testing.T) {
	c := New(50 * time.Millisecond)
	c.SetDatastore(ok)
	c.RegisterService("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Second)
		return nil
	})
	c.RegisterService("fast", ok)

	start := time.Now()
	report := c.Check(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("check took %v, expected to be bounded by timeout", elapsed)
	}
	if report.Services["slow"].Healthy() {
		t.Error("slow service should be unhealthy")
	}
	if !report.Services["fast"].Healthy() {
		t.Error("fast service should be healthy")
	}
}

func TestHandler_StatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		datastore CheckFunc
		cache     CheckFunc
		wantCode  int
		wantBody  string
	}{
		{"healthy", ok, ok, http.StatusOK, StatusHealthy},
		{"degraded", ok, fail("x"), http.StatusOK, StatusDegraded},
		{"unhealthy", fail("x"), ok, http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			c.SetDatastore(tt.datastore)
			c.SetCache(tt.cache)

			rec := httptest.NewRecorder()
			c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var report Report
			if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if report.Status != tt.wantBody {
				t.Errorf("status = %q, want %q", report.Status, tt.wantBody)
			}
		})
	}
}

type fakeRecorder struct {
	mu  sync.Mutex
	ups map[string]bool
}

func (f *fakeRecorder) SetDependencyUp(name string, up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups[name] = up
}

func TestProber_ProbeOnce(t *testing.T) {
	c := New(time.Second)
	c.SetDatastore(ok)
	c.SetCache(fail("redis down"))
	c.RegisterService("chat", ok)

	rec := &fakeRecorder{ups: map[string]bool{}}
	p := NewProber(c, rec, nil)

	report := p.ProbeOnce(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %q, want degraded", report.Status)
	}
	if !rec.ups["database"] || rec.ups["cache"] || !rec.ups["chat"] {
		t.Errorf("unexpected gauges: %v", rec.ups)
	}
}

func TestProber_StartStop(t *testing.T) {
	c := New(time.Second)
	p := NewProber(c, &fakeRecorder{ups: map[string]bool{}}, nil)

	if err := p.Start(context.Background(), "not a schedule"); err == nil {
		t.Error("expected error for invalid schedule")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx, "@every 1h"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	cancel()
	p.Stop()
}
