// Package middleware provides the HTTP middleware wrapped around the gateway
// router.
//
// # Middleware Chain
//
// The server installs the chain outermost first:
//
//	Recovery -> RequestID -> Logging -> CORS -> routes
//
// Rate limiting and response caching are installed per route, since they
// only apply to some endpoints:
//
//	r.With(RateLimit(limiter)).Get("/", rootHandler)
//	r.With(Cache(c, cfg, logger)).Handle("/*", gateway)
//
// # Request ID
//
// RequestID reuses the client's X-Request-ID or generates a UUID v4. The ID
// is stored with logging.WithRequestID, echoed on the response and forwarded
// to backend services by the proxy.
//
// # Streaming
//
// Every ResponseWriter wrapper in this package implements http.Flusher and
// http.Hijacker, so SSE relays flush through the chain and WebSocket
// upgrades still reach the underlying connection.
package middleware
