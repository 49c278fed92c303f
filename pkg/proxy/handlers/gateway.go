package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy/types"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/logging"
)

// Gateway forwards requests to backend services per the route table.
type Gateway struct {
	forwarder *proxy.Forwarder
	logger    *slog.Logger
}

// NewGateway creates the catch-all handler.
func NewGateway(f *proxy.Forwarder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{forwarder: f, logger: logger.With("component", "gateway")}
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx, g.logger)

	route, upstreamPath, ok := g.forwarder.Table().Match(r.URL.Path)
	if !ok {
		writeError(w, log, types.NewNotFound("Not Found"))
		return
	}

	req, err := proxy.NewRequest(r, route.Service, upstreamPath, route.Stream)
	if err != nil {
		writeError(w, log, proxy.HandleError(err))
		return
	}

	resp, err := g.forwarder.Forward(ctx, req)
	if err != nil {
		writeError(w, log, proxy.HandleError(err))
		return
	}

	if err := g.forwarder.WriteResponse(w, resp); err != nil {
		// Headers are gone; all that is left is to record it.
		log.Warn("response relay ended early",
			"service", route.Service,
			"path", upstreamPath,
			"kind", resp.Kind.String(),
			"error", err,
		)
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, errResp *types.ErrorResponse) {
	if err := proxy.WriteErrorResponse(w, errResp); err != nil {
		log.Error("failed to write error response", "error", err)
	}
}
