package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	cb "github.com/sony/gobreaker"

	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/health"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/logging"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/metrics"
)

var (
	// ErrUnknownService is wrapped by the ServiceUnavailableError returned
	// for a service name missing from the table.
	ErrUnknownService = errors.New("unknown service")

	errUpstreamTimeout = errors.New("upstream request timed out")
)

// Kind classifies a successful Forward outcome.
type Kind int

const (
	// KindJSON is a parsed JSON body.
	KindJSON Kind = iota
	// KindStream is an SSE body to relay.
	KindStream
	// KindRaw is an opaque body with its original content type.
	KindRaw
	// KindNoContent is an empty 204.
	KindNoContent
	// KindNotFound is an upstream 404.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindStream:
		return "stream"
	case KindRaw:
		return "raw"
	case KindNoContent:
		return "no_content"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Response is the result of a forwarded call. For KindStream the caller
// owns Body and must Close it (Relay does).
type Response struct {
	Kind        Kind
	Service     string
	StatusCode  int
	Header      http.Header
	ContentType string
	Decision    Decision

	// JSON holds the validated body for KindJSON.
	JSON json.RawMessage

	// Raw holds the body for KindRaw.
	Raw []byte

	// Body is the live upstream body for KindStream.
	Body io.ReadCloser

	// NotFoundDetail is the upstream detail for KindNotFound.
	NotFoundDetail string
}

// Close releases the upstream body of a streaming response. It is safe on
// any kind.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Options configures a Forwarder.
type Options struct {
	RequestTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
	ConnectTimeout        time.Duration
	HealthTimeout         time.Duration
	StreamBufferSize      int
	MaxIdleConnsPerHost   int
	Breaker               config.BreakerConfig
}

// OptionsFromConfig converts the proxy section of the configuration.
func OptionsFromConfig(cfg config.ProxyConfig) Options {
	return Options{
		RequestTimeout:        cfg.RequestTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ConnectTimeout:        cfg.ConnectTimeout,
		HealthTimeout:         cfg.HealthTimeout,
		StreamBufferSize:      cfg.StreamBufferSize,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		Breaker:               cfg.Breaker,
	}
}

func (o *Options) applyDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = config.DefaultRequestTimeout
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = config.DefaultHealthTimeout
	}
	if o.StreamBufferSize <= 0 {
		o.StreamBufferSize = config.DefaultStreamBufferSize
	}
	if o.MaxIdleConnsPerHost <= 0 {
		o.MaxIdleConnsPerHost = config.DefaultMaxIdleConnsPerHost
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = config.DefaultConnectTimeout
	}
	// A zero ResponseHeaderTimeout leaves header waits to the request
	// deadline alone.
}

// Forwarder sends requests to backend services.
type Forwarder struct {
	table    *Table
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Collector
	breakers *breakers

	clientOnce sync.Once
	httpClient *http.Client
}

// NewForwarder creates a forwarder over table. collector may be nil.
func NewForwarder(table *Table, opts Options, logger *slog.Logger, collector *metrics.Collector) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()

	f := &Forwarder{
		table:   table,
		opts:    opts,
		logger:  logger.With("component", "proxy"),
		metrics: collector,
	}
	f.breakers = newBreakers(opts.Breaker, f.logger, collector.SetBreakerState)
	return f
}

// Table returns the route table.
func (f *Forwarder) Table() *Table {
	return f.table
}

// StreamBufferSize is the read size used when relaying streams.
func (f *Forwarder) StreamBufferSize() int {
	return f.opts.StreamBufferSize
}

// client returns the shared HTTP client, creating it on first use. The
// client has no overall timeout; each call carries its own deadline so that
// confirmed streams can outlive it. Redirects are relayed to the client,
// not followed.
func (f *Forwarder) client() *http.Client {
	f.clientOnce.Do(func() {
		dialer := &net.Dialer{
			Timeout:   f.opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}
		f.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				MaxIdleConns:          f.opts.MaxIdleConnsPerHost * 4,
				MaxIdleConnsPerHost:   f.opts.MaxIdleConnsPerHost,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: f.opts.ResponseHeaderTimeout,
				ExpectContinueTimeout: 1 * time.Second,
				ForceAttemptHTTP2:     true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	})
	return f.httpClient
}

// Forward sends req to its service and classifies the answer.
func (f *Forwarder) Forward(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	svc, ok := f.table.Lookup(req.Service)
	if !ok {
		f.metrics.RecordProxyRequest(req.Service, "unavailable", time.Since(start))
		return nil, &ServiceUnavailableError{Service: req.Service, Err: ErrUnknownService}
	}

	decision := Decision{Requested: req.Requested()}

	var resp *Response
	var err error
	if br := f.breakers.get(svc.Name); br != nil {
		_, err = br.Execute(func() (interface{}, error) {
			r, callErr := f.do(ctx, svc, req, decision)
			resp = r
			return nil, callErr
		})
		if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
			err = &ServiceUnavailableError{Service: svc.Name, Err: err}
		}
	} else {
		resp, err = f.do(ctx, svc, req, decision)
	}

	f.metrics.RecordProxyRequest(svc.Name, outcome(resp, err), time.Since(start))

	log := logging.FromContext(ctx, f.logger)
	if err != nil {
		log.Warn("upstream call failed",
			"service", svc.Name,
			"method", req.Method,
			"path", req.Path,
			"error", err,
		)
		return nil, err
	}
	if resp.Decision.Overridden() {
		log.Debug("streaming decision overridden by upstream",
			"service", svc.Name,
			"path", req.Path,
			"requested", resp.Decision.Requested,
			"confirmed", resp.Decision.Confirmed.String(),
		)
	}
	return resp, nil
}

func (f *Forwarder) do(parent context.Context, svc ServiceRoute, req *Request, decision Decision) (*Response, error) {
	// The deadline is a timer rather than context.WithTimeout so it can be
	// lifted once the upstream confirms a stream.
	ctx, cancel := context.WithCancelCause(parent)
	deadline := time.AfterFunc(f.opts.RequestTimeout, func() { cancel(errUpstreamTimeout) })
	release := func() {
		deadline.Stop()
		cancel(nil)
	}

	target := svc.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, req.bodyReader())
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	httpReq.Header = forwardableHeaders(req.Header)
	if httpReq.Header.Get(RequestIDHeader) == "" {
		if id := logging.GetRequestID(parent); id != "" {
			httpReq.Header.Set(RequestIDHeader, id)
		}
	}

	httpResp, err := f.client().Do(httpReq)
	if err != nil {
		release()
		return nil, f.callError(parent, ctx, svc.Name, err)
	}

	contentType := httpResp.Header.Get("Content-Type")

	if httpResp.StatusCode >= http.StatusBadRequest {
		defer release()
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, f.callError(parent, ctx, svc.Name, err)
		}
		if httpResp.StatusCode == http.StatusNotFound {
			return &Response{
				Kind:           KindNotFound,
				Service:        svc.Name,
				StatusCode:     http.StatusNotFound,
				Header:         forwardableHeaders(httpResp.Header),
				ContentType:    contentType,
				Decision:       decision.Confirm(""),
				NotFoundDetail: notFoundDetail(body),
			}, nil
		}
		return nil, &UpstreamError{
			Service:    svc.Name,
			StatusCode: httpResp.StatusCode,
			Body:       string(body),
		}
	}

	decision = decision.Confirm(contentType)
	resp := &Response{
		Service:     svc.Name,
		StatusCode:  httpResp.StatusCode,
		Header:      forwardableHeaders(httpResp.Header),
		ContentType: contentType,
		Decision:    decision,
	}

	if decision.Confirmed == ModeStreaming {
		deadline.Stop()
		resp.Kind = KindStream
		resp.Body = &streamBody{ReadCloser: httpResp.Body, cancel: func() { cancel(nil) }}
		return resp, nil
	}

	defer release()
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNoContent {
		resp.Kind = KindNoContent
		return resp, nil
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, f.callError(parent, ctx, svc.Name, err)
	}

	if isJSON(contentType) {
		var probe json.RawMessage
		if err := json.Unmarshal(body, &probe); err != nil {
			return nil, &ContractViolationError{
				Service:    svc.Name,
				StatusCode: httpResp.StatusCode,
				Headers:    headerExcerpt(httpResp.Header),
				Raw:        body,
				Err:        err,
			}
		}
		resp.Kind = KindJSON
		resp.JSON = json.RawMessage(body)
		return resp, nil
	}

	resp.Kind = KindRaw
	resp.Raw = body
	return resp, nil
}

// callError classifies a transport failure. Cancellation by the caller is
// returned as-is so it never counts against the service.
func (f *Forwarder) callError(parent, ctx context.Context, service string, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return parentErr
	}
	if errors.Is(context.Cause(ctx), errUpstreamTimeout) {
		err = fmt.Errorf("%w: %v", errUpstreamTimeout, err)
	}
	return &ServiceUnavailableError{Service: service, Err: err}
}

// ServiceHealth calls GET {base}/health on the named service.
func (f *Forwarder) ServiceHealth(ctx context.Context, name string) error {
	svc, ok := f.table.Lookup(name)
	if !ok {
		return &ServiceUnavailableError{Service: name, Err: ErrUnknownService}
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// HealthCheck adapts ServiceHealth for the health checker.
func (f *Forwarder) HealthCheck(name string) health.CheckFunc {
	return func(ctx context.Context) error {
		return f.ServiceHealth(ctx, name)
	}
}

// streamBody cancels the call context when the relay closes the body.
type streamBody struct {
	io.ReadCloser
	cancel func()
	once   sync.Once
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}

func outcome(resp *Response, err error) string {
	if err != nil {
		var upstream *UpstreamError
		var contract *ContractViolationError
		switch {
		case isConnectivityFailure(err):
			return "unavailable"
		case errors.As(err, &upstream):
			return "upstream_error"
		case errors.As(err, &contract):
			return "contract_violation"
		default:
			return "cancelled"
		}
	}
	return resp.Kind.String()
}

func notFoundDetail(body []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Detail == nil {
		return "Not found"
	}
	if s, ok := payload.Detail.(string); ok {
		return s
	}
	b, err := json.Marshal(payload.Detail)
	if err != nil {
		return "Not found"
	}
	return string(b)
}

// diagnosticHeaders are included in contract violation reports.
var diagnosticHeaders = []string{"Content-Type", "Content-Length", "Server", "Date", RequestIDHeader}

func headerExcerpt(h http.Header) map[string]string {
	out := make(map[string]string)
	for _, k := range diagnosticHeaders {
		if v := h.Get(k); v != "" {
			out[k] = v
		}
	}
	return out
}
