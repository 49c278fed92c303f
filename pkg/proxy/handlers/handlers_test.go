package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Aeonia-ai/gaia-sub004/internal/upstream"
	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
)

func newForwarder(t *testing.T, services map[string]string, routes []config.RouteConfig) *proxy.Forwarder {
	t.Helper()
	table, err := proxy.NewTable(services, routes)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return proxy.NewForwarder(table, proxy.Options{}, nil, nil)
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body %q: %v", rec.Body.String(), err)
	}
	return body.Detail
}

func TestGateway_ForwardsMatchedRoutes(t *testing.T) {
	chat := upstream.NewServer()
	defer chat.Close()
	kb := upstream.NewServer()
	defer kb.Close()

	chat.Set("/api/v1/chat", upstream.Response{
		StatusCode: http.StatusOK,
		Body:       `{"response":"hi"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
	kb.Set("/search", upstream.Response{
		StatusCode: http.StatusOK,
		Body:       `{"results":[]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})

	f := newForwarder(t,
		map[string]string{"chat": chat.URL(), "kb": kb.URL()},
		[]config.RouteConfig{
			{Prefix: "/api/v1/chat", Service: "chat"},
			{Prefix: "/api/v1/kb", Service: "kb", StripPrefix: true},
		},
	)
	g := NewGateway(f, nil)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"chat post", http.MethodPost, "/api/v1/chat", http.StatusOK, `{"response":"hi"}`},
		{"kb strip prefix", http.MethodGet, "/api/v1/kb/search?q=bottle", http.StatusOK, `{"results":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"message":"hello"}`))
			req.Header.Set("Content-Type", "application/json")
			g.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %s, want %s", got, tt.wantBody)
			}
		})
	}

	reqs := kb.Requests()
	if len(reqs) != 1 || reqs[0].Query != "q=bottle" {
		t.Errorf("expected query to be forwarded, got %+v", reqs)
	}
}

func TestGateway_UnmatchedPath(t *testing.T) {
	f := newForwarder(t, map[string]string{"chat": "http://127.0.0.1:1"}, []config.RouteConfig{
		{Prefix: "/api/v1/chat", Service: "chat"},
	})

	rec := httptest.NewRecorder()
	NewGateway(f, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
	if got := decodeDetail(t, rec); got != "Not Found" {
		t.Errorf("detail = %q", got)
	}
}

func TestGateway_UnreachableService(t *testing.T) {
	f := newForwarder(t, map[string]string{"chat": "http://127.0.0.1:1"}, []config.RouteConfig{
		{Prefix: "/api/v1/chat", Service: "chat"},
	})

	rec := httptest.NewRecorder()
	NewGateway(f, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	if decodeDetail(t, rec) == "" {
		t.Error("expected a detail message")
	}
}

func TestGateway_RelaysStream(t *testing.T) {
	chat := upstream.NewServer()
	defer chat.Close()

	chunks := []string{"data: {\"t\":\"Hel\"}\n\n", "data: {\"t\":\"lo\"}\n\n", "data: [DONE]\n\n"}
	chat.Set("/api/v1/chat/stream", upstream.Response{StatusCode: http.StatusOK, Chunks: chunks})

	f := newForwarder(t, map[string]string{"chat": chat.URL()}, []config.RouteConfig{
		{Prefix: "/api/v1/chat/stream", Service: "chat", Stream: true},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	NewGateway(f, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, proxy.ContentTypeSSE) {
		t.Errorf("content type = %q", ct)
	}
	if got, want := rec.Body.String(), strings.Join(chunks, ""); got != want {
		t.Errorf("stream not relayed byte for byte:\n got %q\nwant %q", got, want)
	}
}

func TestRoot(t *testing.T) {
	f := newForwarder(t, map[string]string{"chat": "http://chat:8000", "kb": "http://kb:8000"}, nil)

	rec := httptest.NewRecorder()
	Root("1.2.3", f.Table()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var banner Banner
	if err := json.Unmarshal(rec.Body.Bytes(), &banner); err != nil {
		t.Fatal(err)
	}
	if banner.Service != "gaia-gateway" || banner.Version != "1.2.3" || banner.Status != "running" {
		t.Errorf("unexpected banner: %+v", banner)
	}
	if len(banner.Services) != 2 {
		t.Errorf("expected 2 services, got %v", banner.Services)
	}
}

const waypointsJSON = `[
	{"id": "near", "name": "Fairy Door", "waypoint_type": "vps", "location": {"lat": 37.9060, "lng": -122.5440}},
	{"id": "far", "name": "Summit", "location": {"lat": 37.9300, "lng": -122.5800}},
	{"id": "pathway", "name": "Trail Segment"}
]`

func TestLocations_Nearby(t *testing.T) {
	kb := upstream.NewServer()
	defer kb.Close()

	jsonHeader := map[string]string{"Content-Type": "application/json"}
	kb.Set(WaypointsPath("wylding-woods"), upstream.Response{StatusCode: http.StatusOK, Body: waypointsJSON, Headers: jsonHeader})
	kb.Set(WaypointsPath("wrapped"), upstream.Response{
		StatusCode: http.StatusOK,
		Body:       `{"waypoints": {"near": {"name": "Fairy Door", "location": {"lat": 37.9060, "lng": -122.5440}}}}`,
		Headers:    jsonHeader,
	})

	f := newForwarder(t, map[string]string{"kb": kb.URL()}, nil)
	h := NewLocations(f, "kb", "wylding-woods", nil)

	tests := []struct {
		name       string
		query      string
		wantIDs    []string
		wantRadius float64
		wantExp    string
	}{
		{"default radius", "lat=37.906&lng=-122.544", []string{"near"}, DefaultRadiusKM, "wylding-woods"},
		{"wide radius nearest first", "lat=37.906&lng=-122.544&radius_km=10", []string{"near", "far"}, 10, "wylding-woods"},
		{"wrapped map", "lat=37.906&lng=-122.544&experience=wrapped", []string{"near"}, DefaultRadiusKM, "wrapped"},
		{"nothing in range", "lat=0&lng=0", []string{}, DefaultRadiusKM, "wylding-woods"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/locations/nearby?"+tt.query, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("code = %d (body %s)", rec.Code, rec.Body.String())
			}
			var resp NearbyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Experience != tt.wantExp || resp.RadiusKM != tt.wantRadius {
				t.Errorf("unexpected echo: %+v", resp)
			}
			if resp.Count != len(tt.wantIDs) || len(resp.Locations) != len(tt.wantIDs) {
				t.Fatalf("got %d locations, want %d", len(resp.Locations), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if resp.Locations[i].ID != id {
					t.Errorf("locations[%d] = %q, want %q", i, resp.Locations[i].ID, id)
				}
			}
		})
	}
}

func TestLocations_BadInput(t *testing.T) {
	f := newForwarder(t, map[string]string{"kb": "http://127.0.0.1:1"}, nil)
	h := NewLocations(f, "kb", "wylding-woods", nil)

	queries := []string{
		"",
		"lat=37.9",
		"lat=abc&lng=1",
		"lat=91&lng=0",
		"lat=0&lng=-181",
		"lat=0&lng=0&radius_km=0",
		"lat=0&lng=0&radius_km=500",
		"lat=0&lng=0&radius_km=wide",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/locations/nearby?"+q, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("code = %d, want 400", rec.Code)
			}
			if decodeDetail(t, rec) == "" {
				t.Error("expected detail")
			}
		})
	}
}

func TestLocations_UpstreamFailures(t *testing.T) {
	kb := upstream.NewServer()
	defer kb.Close()
	kb.Set(WaypointsPath("garbled"), upstream.Response{
		StatusCode: http.StatusOK,
		Body:       `{"items": 3}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
	kb.Set(WaypointsPath("missing"), upstream.Response{
		StatusCode: http.StatusNotFound,
		Body:       `{"detail":"no such experience"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})

	f := newForwarder(t, map[string]string{"kb": kb.URL()}, nil)
	h := NewLocations(f, "kb", "wylding-woods", nil)

	tests := []struct {
		experience string
		wantCode   int
	}{
		{"garbled", http.StatusBadGateway},
		{"missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.experience, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/locations/nearby?lat=0&lng=0&experience="+tt.experience, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	forwarded := kb.Requests()
	if len(forwarded) != 2 || forwarded[0].Method != http.MethodGet {
		t.Errorf("unexpected kb requests: %+v", forwarded)
	}
}

func TestDecodeWaypoints(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"array", `[{"id":"a"},{"id":"b"}]`, 2, false},
		{"wrapped array", `{"waypoints":[{"id":"a"}]}`, 1, false},
		{"wrapped map", `{"waypoints":{"a":{"name":"A"},"b":{"name":"B"}}}`, 2, false},
		{"missing field", `{"other":[]}`, 0, true},
		{"scalar", `42`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeWaypoints(json.RawMessage(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("got %d waypoints, want %d", len(got), tt.want)
			}
			for _, w := range got {
				if w.ID == "" {
					t.Error("waypoint ID should be filled from the map key")
				}
			}
		})
	}
}
