package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy/types"
)

// ServiceUnavailableError means the gateway could not get an answer from a
// service at all: the name is unknown, the connection failed, the call timed
// out, or the service's breaker is open.
type ServiceUnavailableError struct {
	Service string
	Err     error
}

func (e *ServiceUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("service %s unavailable", e.Service)
	}
	return fmt.Sprintf("service %s unavailable: %v", e.Service, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// UpstreamError is a non-404 error status returned by a service.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Service error: %s", e.Body)
}

// ContractViolationError means a service declared JSON but sent something
// that does not parse.
type ContractViolationError struct {
	Service    string
	StatusCode int
	Headers    map[string]string
	Raw        []byte
	Err        error
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("service %s returned invalid JSON (status %d): %v", e.Service, e.StatusCode, e.Err)
}

func (e *ContractViolationError) Unwrap() error { return e.Err }

// RequestTooLargeError is returned when an inbound body exceeds the limit.
type RequestTooLargeError struct {
	Limit int64
}

func (e *RequestTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

// maxDiagnosticBody caps how much of an unparseable body is echoed back.
const maxDiagnosticBody = 2048

// HandleError converts an error from Forward (or request parsing) into the
// error body sent to the client.
//
//	resp, err := fwd.Forward(ctx, req)
//	if err != nil {
//	    WriteErrorResponse(w, HandleError(err))
//	    return
//	}
func HandleError(err error) *types.ErrorResponse {
	var unavailable *ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return types.NewServiceUnavailable(fmt.Sprintf("Service %s unavailable", unavailable.Service))
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return types.NewErrorResponse(upstream.StatusCode, upstream.Error())
	}

	var contract *ContractViolationError
	if errors.As(err, &contract) {
		raw := contract.Raw
		if len(raw) > maxDiagnosticBody {
			raw = raw[:maxDiagnosticBody]
		}
		resp := types.NewServerError(fmt.Sprintf("Invalid response from %s service", contract.Service))
		resp.Upstream = &types.UpstreamDiagnostics{
			Service:    contract.Service,
			StatusCode: contract.StatusCode,
			Headers:    contract.Headers,
			Body:       string(raw),
		}
		return resp
	}

	var tooLarge *RequestTooLargeError
	if errors.As(err, &tooLarge) {
		return types.NewErrorResponse(http.StatusRequestEntityTooLarge, tooLarge.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewErrorResponse(http.StatusGatewayTimeout, "Request timed out")
	}

	return types.NewServerError("An internal error occurred. Please try again later.")
}

// isConnectivityFailure reports whether err should count against a
// service's circuit breaker.
func isConnectivityFailure(err error) bool {
	var unavailable *ServiceUnavailableError
	return errors.As(err, &unavailable)
}
