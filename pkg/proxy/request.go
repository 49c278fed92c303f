package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const (
	// MaxRequestBodySize is the largest request body the gateway forwards (50MB,
	// sized for asset uploads).
	MaxRequestBodySize = 50 * 1024 * 1024

	// RequestIDHeader is the HTTP header for request ID propagation.
	RequestIDHeader = "X-Request-ID"

	// ContentTypeSSE is the Server-Sent Events media type.
	ContentTypeSSE = "text/event-stream"
)

// hopHeaders are connection-scoped and never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
	"Content-Length",
}

// Request is one call to forward.
type Request struct {
	// Service is a key of the service table.
	Service string
	Method  string
	Path    string
	Header  http.Header
	Query   url.Values

	// Body is forwarded verbatim. JSON and multipart bodies are both
	// carried as bytes; Header's Content-Type describes them.
	Body []byte

	// StreamHint is the caller's explicit streaming intent.
	StreamHint bool
}

// Mode is how a response body is delivered.
type Mode int

const (
	// ModeBuffered reads the whole body before replying.
	ModeBuffered Mode = iota
	// ModeStreaming relays the body as it arrives.
	ModeStreaming
)

func (m Mode) String() string {
	if m == ModeStreaming {
		return "streaming"
	}
	return "buffered"
}

// Decision records the two-step streaming decision. Requested is known
// before the call; Confirmed only once upstream headers arrive.
type Decision struct {
	Requested bool
	Confirmed Mode
}

// Overridden reports whether the upstream disagreed with the request.
func (d Decision) Overridden() bool {
	return d.Requested != (d.Confirmed == ModeStreaming)
}

// Requested derives the request-side streaming intent.
func (r *Request) Requested() bool {
	if r.StreamHint || strings.HasSuffix(r.Path, "/stream") {
		return true
	}
	return bodyRequestsStream(r.Header.Get("Content-Type"), r.Body)
}

// Confirm completes the decision from the upstream content type.
func (d Decision) Confirm(contentType string) Decision {
	if isSSE(contentType) {
		d.Confirmed = ModeStreaming
	} else {
		d.Confirmed = ModeBuffered
	}
	return d
}

func bodyRequestsStream(contentType string, body []byte) bool {
	if len(body) == 0 || !isJSON(contentType) && contentType != "" {
		return false
	}
	var probe struct {
		Stream *bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Stream != nil && *probe.Stream
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}

func isSSE(contentType string) bool {
	return mediaType(contentType) == ContentTypeSSE
}

func isJSON(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// NewRequest builds a Request from an inbound HTTP request. The body is read
// fully (up to MaxRequestBodySize) so that it can be inspected for
// streaming intent and replayed to the upstream.
func NewRequest(r *http.Request, service, path string, streamHint bool) (*Request, error) {
	var body []byte
	if r.Body != nil {
		limited := io.LimitReader(r.Body, MaxRequestBodySize+1)
		b, err := io.ReadAll(limited)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if len(b) > MaxRequestBodySize {
			return nil, &RequestTooLargeError{Limit: MaxRequestBodySize}
		}
		body = b
	}

	return &Request{
		Service:    service,
		Method:     r.Method,
		Path:       path,
		Header:     forwardableHeaders(r.Header),
		Query:      r.URL.Query(),
		Body:       body,
		StreamHint: streamHint,
	}, nil
}

func (r *Request) bodyReader() io.Reader {
	if len(r.Body) == 0 {
		return nil
	}
	return bytes.NewReader(r.Body)
}

// forwardableHeaders copies h without hop-by-hop headers.
func forwardableHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for _, c := range out.Values("Connection") {
		for _, f := range strings.Split(c, ",") {
			out.Del(strings.TrimSpace(f))
		}
	}
	for _, k := range hopHeaders {
		out.Del(k)
	}
	return out
}
