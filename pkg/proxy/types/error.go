package types

import "net/http"

// ErrorResponse is the body of every error the gateway produces itself. The
// single detail field matches what the backend services return, so clients
// parse gateway and service errors the same way.
type ErrorResponse struct {
	// Detail is a human-readable message.
	Detail string `json:"detail"`

	// Upstream carries diagnostics when a backend broke its response
	// contract. It is omitted for every other error.
	Upstream *UpstreamDiagnostics `json:"upstream,omitempty"`

	status int
}

// UpstreamDiagnostics describes a response the gateway could not interpret.
type UpstreamDiagnostics struct {
	Service    string            `json:"service"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
}

// NewErrorResponse creates an error body that will be sent with status.
func NewErrorResponse(status int, detail string) *ErrorResponse {
	return &ErrorResponse{Detail: detail, status: status}
}

// HTTPStatusCode returns the status the response should be sent with.
func (e *ErrorResponse) HTTPStatusCode() int {
	if e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// NewNotFound is a 404 with detail.
func NewNotFound(detail string) *ErrorResponse {
	return NewErrorResponse(http.StatusNotFound, detail)
}

// NewBadRequest is a 400 with detail.
func NewBadRequest(detail string) *ErrorResponse {
	return NewErrorResponse(http.StatusBadRequest, detail)
}

// NewServiceUnavailable is a 503 with detail.
func NewServiceUnavailable(detail string) *ErrorResponse {
	return NewErrorResponse(http.StatusServiceUnavailable, detail)
}

// NewServerError is a 500 with detail.
func NewServerError(detail string) *ErrorResponse {
	return NewErrorResponse(http.StatusInternalServerError, detail)
}

// NewTooManyRequests is a 429 with detail.
func NewTooManyRequests(detail string) *ErrorResponse {
	return NewErrorResponse(http.StatusTooManyRequests, detail)
}
