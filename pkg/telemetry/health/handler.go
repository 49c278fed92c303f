package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the aggregate report. An unhealthy gateway answers 503 so
// load balancers stop routing to it; degraded still answers 200.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())

		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}
