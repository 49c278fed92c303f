// Package proxy forwards client requests to the Gaia backend services.
//
// A Table maps logical service names to base URLs and inbound path prefixes
// to services. A Forwarder sends a Request to the resolved service over one
// shared, lazily created HTTP client and classifies the upstream answer:
//
//   - text/event-stream: relayed byte for byte, flushed after every read
//   - application/json: parsed; a parse failure is a ContractViolationError
//   - 204: relayed as an empty 204
//   - 404: a NotFound outcome, passed through with the upstream detail
//   - other 4xx/5xx: an UpstreamError carrying status and body
//   - anything else: raw bytes with the upstream content type
//
// Whether a request streams is decided in two steps. The request declares an
// intent (an explicit hint, "stream": true in the JSON body, or a path ending
// in /stream); the upstream content type then confirms the actual mode. See
// Decision.
//
// Connectivity failures (unknown service, refused connection, timeout, open
// circuit breaker) surface as ServiceUnavailableError and map to HTTP 503.
package proxy
