// Package handlers provides the gateway's own HTTP endpoints.
//
// Gateway is the catch-all: it matches the request path against the route
// table, forwards through the proxy Forwarder and writes the classified
// response. Paths no route claims get a 404 {"detail": "Not Found"}.
//
// Root serves the banner at GET /. Locations serves
// GET /api/v1/locations/nearby by fetching an experience's waypoints from
// the knowledge-base service and filtering them with package geo.
//
// Every error body uses the {"detail": ...} shape of package types.
package handlers
