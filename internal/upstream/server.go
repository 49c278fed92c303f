// Package upstream provides a scriptable fake backend service for tests.
// Responses are registered per path; SSE responses are written chunk by
// chunk, verbatim, with an optional delay between chunks.
package upstream

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Server is a fake Gaia backend service.
type Server struct {
	server    *httptest.Server
	responses map[string]Response
	requests  []Recorded
	mu        sync.Mutex
}

// Response defines what the fake returns for one path.
type Response struct {
	StatusCode int

	// Body is written as-is for string and []byte, JSON-encoded otherwise.
	Body any

	// Delay is applied before headers are written.
	Delay   time.Duration
	Headers map[string]string

	// Chunks, when set, makes the response a text/event-stream. Each
	// chunk is written exactly and flushed, then ChunkDelay elapses.
	Chunks     []string
	ChunkDelay time.Duration

	// AbortAfter closes the connection after that many chunks without
	// finishing the response. Zero sends every chunk.
	AbortAfter int
}

// Recorded is a request the fake received.
type Recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// NewServer starts a fake service. It serves GET /health with 200 unless a
// response is registered for that path.
func NewServer() *Server {
	s := &Server{responses: make(map[string]Response)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the base URL of the fake.
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the fake down.
func (s *Server) Close() {
	s.server.Close()
}

// Set registers the response for path.
func (s *Server) Set(path string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[path] = resp
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recorded, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns the number of requests received.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	resp, ok := s.responses[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		if r.URL.Path == "/health" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not Found"}`))
		return
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	if len(resp.Chunks) > 0 {
		s.stream(w, r, resp)
		return
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	switch v := resp.Body.(type) {
	case nil:
	case string:
		_, _ = w.Write([]byte(v))
	case []byte:
		_, _ = w.Write(v)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, resp Response) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/event-stream")
	}
	w.Header().Set("Cache-Control", "no-cache")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	flusher.Flush()

	for i, chunk := range resp.Chunks {
		if resp.AbortAfter > 0 && i == resp.AbortAfter {
			panic(http.ErrAbortHandler)
		}
		_, _ = io.WriteString(w, chunk)
		flusher.Flush()
		if resp.ChunkDelay > 0 {
			select {
			case <-time.After(resp.ChunkDelay):
			case <-r.Context().Done():
				return
			}
		}
	}
}
