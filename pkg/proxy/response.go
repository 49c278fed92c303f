package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy/types"
)

// WriteJSONResponse writes a JSON response to the HTTP response writer.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}

	return nil
}

// WriteErrorResponse writes errResp with its own status code.
func WriteErrorResponse(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	return WriteJSONResponse(w, errResp.HTTPStatusCode(), errResp)
}

// SetSSEHeaders sets the headers every relayed event stream carries.
// X-Accel-Buffering stops nginx-style proxies from holding chunks back.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteResponse sends a forwarded response to the client. Streams are
// relayed through Relay; every other kind is written in one go.
func (f *Forwarder) WriteResponse(w http.ResponseWriter, resp *Response) error {
	switch resp.Kind {
	case KindStream:
		copyHeaders(w.Header(), resp.Header)
		SetSSEHeaders(w)
		w.WriteHeader(resp.StatusCode)
		n, err := Relay(w, resp.Body, f.opts.StreamBufferSize, f.logger.With("service", resp.Service))
		f.metrics.RecordStreamBytes(resp.Service, int(n))
		return err

	case KindNotFound:
		return WriteErrorResponse(w, types.NewNotFound(resp.NotFoundDetail))

	case KindNoContent:
		copyHeaders(w.Header(), resp.Header)
		w.Header().Del("Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return nil

	case KindJSON:
		copyHeaders(w.Header(), resp.Header)
		w.Header().Set("Content-Type", resp.ContentType)
		w.WriteHeader(resp.StatusCode)
		_, err := w.Write(resp.JSON)
		return err

	default:
		copyHeaders(w.Header(), resp.Header)
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(resp.StatusCode)
		_, err := w.Write(resp.Raw)
		return err
	}
}

// Relay copies body to w exactly as read, flushing after every read. It
// never parses lines or events, so token and event boundaries reach the
// client as the upstream produced them. An upstream read error ends the
// relay like EOF; a write error means the client is gone and is returned.
// body is always closed.
func Relay(w io.Writer, body io.ReadCloser, bufSize int, logger *slog.Logger) (int64, error) {
	defer body.Close()

	if bufSize <= 0 {
		bufSize = 4096
	}
	buf := make([]byte, bufSize)
	flusher, _ := w.(http.Flusher)

	var total int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			written, err := w.Write(buf[:n])
			total += int64(written)
			if err != nil {
				return total, fmt.Errorf("client write failed: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && logger != nil {
				logger.Warn("upstream stream ended early", "error", readErr, "bytes", total)
			}
			return total, nil
		}
	}
}

// copyHeaders copies upstream headers, leaving CORS to the gateway.
func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.HasPrefix(k, "Access-Control-") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
