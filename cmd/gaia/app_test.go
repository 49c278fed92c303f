package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Aeonia-ai/gaia-sub004/internal/upstream"
	"github.com/Aeonia-ai/gaia-sub004/pkg/auth"
	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/experience"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/health"
)

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Services: map[string]string{"chat": backendURL, "kb": backendURL},
		Routes:   []config.RouteConfig{{Prefix: "/api/v1/chat", Service: "chat"}},
		Auth:     config.AuthConfig{JWTSecret: "test-secret"},
	}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Telemetry.Health.ProbeSchedule = ""
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, discardLogger(), new(slog.LevelVar))
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	return a
}

func healthReport(t *testing.T, h http.Handler) (int, health.Report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var report health.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid health body %q: %v", rec.Body.String(), err)
	}
	return rec.Code, report
}

func TestNewApp_Health(t *testing.T) {
	backend := upstream.NewServer()
	defer backend.Close()

	a := newTestApp(t, testConfig(t, backend.URL()))
	defer a.close(context.Background())

	code, report := healthReport(t, a.server.Handler())
	if code != http.StatusOK || report.Status != health.StatusHealthy {
		t.Fatalf("code = %d, status = %q", code, report.Status)
	}
	if len(report.Services) != 2 {
		t.Errorf("expected both services in the report, got %v", report.Services)
	}
	if a.bus != nil {
		t.Error("no bus should be created without a NATS URL")
	}
}

func TestNewApp_CacheUnavailableDegrades(t *testing.T) {
	backend := upstream.NewServer()
	defer backend.Close()

	cfg := testConfig(t, backend.URL())
	cfg.Redis.URL = "redis://127.0.0.1:1/0"
	cfg.Redis.DialTimeout = 200 * time.Millisecond
	cfg.Cache.Enabled = true

	a := newTestApp(t, cfg)
	defer a.close(context.Background())

	if a.cache != nil {
		t.Fatal("cache should be disabled when redis is unreachable")
	}
	code, report := healthReport(t, a.server.Handler())
	if code != http.StatusOK || report.Status != health.StatusDegraded {
		t.Errorf("code = %d, status = %q, want 200 degraded", code, report.Status)
	}
	if report.Cache.Healthy() {
		t.Error("cache should be reported unhealthy")
	}
}

func TestNewApp_BadDatabaseIsFatal(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Database.Backend = "mongo"

	if _, err := newApp(context.Background(), cfg, discardLogger(), new(slog.LevelVar)); err == nil {
		t.Fatal("expected an error for an unusable world state backend")
	}
}

func TestNewResponder(t *testing.T) {
	scripted := newResponder(config.ExperienceConfig{Responder: "scripted"}, nil)
	if _, ok := scripted.(experience.ScriptedResponder); !ok {
		t.Errorf("scripted responder = %T", scripted)
	}

	chat := newResponder(config.ExperienceConfig{Responder: "chat_service", ChatPath: "/chat/stream"}, nil)
	r, ok := chat.(experience.ChatServiceResponder)
	if !ok {
		t.Fatalf("chat responder = %T", chat)
	}
	if r.Service != chatService || r.Path != "/chat/stream" {
		t.Errorf("unexpected responder: %+v", r)
	}
}

func TestApp_RunDrainsWebSockets(t *testing.T) {
	backend := upstream.NewServer()
	defer backend.Close()

	cfg := testConfig(t, backend.URL())
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.server.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	token, err := auth.NewValidator(cfg.Auth).Issue("player-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws://" + a.server.Addr().String() + "/ws/experience?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var connected experience.ConnectedFrame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}
	if connected.Type != "connected" || connected.UserID != "player-1" || connected.Experience != cfg.Experience.DefaultExperience {
		t.Errorf("unexpected connected frame: %+v", connected)
	}

	cancel()

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected 1001 close on shutdown, got %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	if n := a.manager.ConnectionCount(); n != 0 {
		t.Errorf("%d connections left after shutdown", n)
	}
}

func TestApplyConfig(t *testing.T) {
	backend := upstream.NewServer()
	defer backend.Close()

	cfg := testConfig(t, backend.URL())
	var logs bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: levelVar}))

	a, err := newApp(context.Background(), cfg, logger, levelVar)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close(context.Background())

	next := *cfg
	next.Telemetry.Logging.Level = "debug"
	next.Routes = append([]config.RouteConfig{}, cfg.Routes...)
	next.Routes = append(next.Routes, config.RouteConfig{Prefix: "/api/v1/kb", Service: "kb"})

	a.applyConfig(&next)

	if levelVar.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", levelVar.Level())
	}
	if a.config() != &next {
		t.Error("reloaded config was not stored")
	}
	out := logs.String()
	if !strings.Contains(out, "section=routes") {
		t.Errorf("expected a restart warning for routes, got:\n%s", out)
	}
	if strings.Contains(out, "section=server") {
		t.Errorf("server section did not change:\n%s", out)
	}
}

func TestRestartOnly(t *testing.T) {
	base := testConfig(t, "http://chat:8000")

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{"unchanged", func(*config.Config) {}, nil},
		{"log level only", func(c *config.Config) { c.Telemetry.Logging.Level = "error" }, nil},
		{"nats", func(c *config.Config) { c.NATS.URL = "nats://other:4222" }, []string{"nats"}},
		{"two sections", func(c *config.Config) {
			c.Cache.TTL = time.Hour
			c.RateLimit.Burst = 1
		}, []string{"cache", "rate_limit"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := *base
			tt.mutate(&next)
			got := restartOnly(base, &next)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("restartOnly = %v, want %v", got, tt.want)
			}
		})
	}
}
