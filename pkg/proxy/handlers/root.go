package handlers

import (
	"net/http"

	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
)

// Banner is the body of GET /.
type Banner struct {
	Service  string   `json:"service"`
	Version  string   `json:"version"`
	Status   string   `json:"status"`
	Services []string `json:"services"`
	Docs     string   `json:"docs"`
}

// Root serves the gateway banner.
func Root(version string, table *proxy.Table) http.HandlerFunc {
	banner := Banner{
		Service:  "gaia-gateway",
		Version:  version,
		Status:   "running",
		Services: table.Services(),
		Docs:     "/health",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		_ = proxy.WriteJSONResponse(w, http.StatusOK, banner)
	}
}
