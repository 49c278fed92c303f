// Package server assembles the gateway's HTTP surface and runs it.
//
// The router is chi. Every request passes through, outermost first:
//
//	Recovery -> RequestID -> Logging -> CORS
//
// and is then dispatched to one of:
//
//	GET  /health                    aggregated health report
//	GET  /                          banner, rate limited per client IP
//	GET  /ws/experience             experience WebSocket
//	GET  /api/v1/locations/nearby   nearby waypoints
//	GET  /metrics                   Prometheus exposition (when enabled)
//	*    /*                         forwarded per the route table
//
// The catch-all is wrapped in the response cache when one is configured.
//
// # Lifecycle
//
// Start blocks until its context is cancelled or the listener fails, then
// shuts down gracefully within server.shutdown_timeout. The caller owns
// signal handling; see pkg/cli.SetupSignalHandler.
//
//	srv := server.New(server.Options{Config: cfg, Forwarder: fwd, Health: checker, ...})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// WriteTimeout defaults to zero because SSE relays and WebSockets outlive
// any fixed write deadline.
package server
