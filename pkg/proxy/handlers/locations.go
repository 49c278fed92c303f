package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Aeonia-ai/gaia-sub004/pkg/geo"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy/types"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/logging"
)

const (
	// DefaultRadiusKM applies when radius_km is omitted.
	DefaultRadiusKM = 1.0

	// MaxRadiusKM caps radius_km.
	MaxRadiusKM = 50.0
)

// NearbyResponse is the body of GET /api/v1/locations/nearby.
type NearbyResponse struct {
	Experience string              `json:"experience"`
	Lat        float64             `json:"lat"`
	Lng        float64             `json:"lng"`
	RadiusKM   float64             `json:"radius_km"`
	Count      int                 `json:"count"`
	Locations  []geo.UnityLocation `json:"locations"`
}

// Locations answers nearby-waypoint queries from the knowledge-base
// service's waypoint list.
type Locations struct {
	forwarder         *proxy.Forwarder
	service           string
	defaultExperience string
	logger            *slog.Logger
}

// NewLocations creates the handler. service names the knowledge-base
// service in the route table.
func NewLocations(f *proxy.Forwarder, service, defaultExperience string, logger *slog.Logger) *Locations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locations{
		forwarder:         f,
		service:           service,
		defaultExperience: defaultExperience,
		logger:            logger.With("component", "locations"),
	}
}

// WaypointsPath returns the knowledge-base path listing an experience's
// waypoints.
func WaypointsPath(experience string) string {
	return "/waypoints/" + url.PathEscape(experience)
}

// ServeHTTP implements http.Handler.
func (h *Locations) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx, h.logger)
	q := r.URL.Query()

	lat, err := parseFloat(q, "lat", nil)
	if err != nil {
		writeError(w, log, types.NewBadRequest(err.Error()))
		return
	}
	lng, err := parseFloat(q, "lng", nil)
	if err != nil {
		writeError(w, log, types.NewBadRequest(err.Error()))
		return
	}
	if !geo.ValidCoordinate(lat, lng) {
		writeError(w, log, types.NewBadRequest("lat must be within [-90, 90] and lng within [-180, 180]"))
		return
	}
	def := DefaultRadiusKM
	radius, err := parseFloat(q, "radius_km", &def)
	if err != nil {
		writeError(w, log, types.NewBadRequest(err.Error()))
		return
	}
	if radius <= 0 || radius > MaxRadiusKM {
		writeError(w, log, types.NewBadRequest(fmt.Sprintf("radius_km must be in (0, %g]", MaxRadiusKM)))
		return
	}

	experience := q.Get("experience")
	if experience == "" {
		experience = h.defaultExperience
	}

	resp, err := h.forwarder.Forward(ctx, &proxy.Request{
		Service: h.service,
		Method:  http.MethodGet,
		Path:    WaypointsPath(experience),
		Header:  forwardedAuth(r),
	})
	if err != nil {
		writeError(w, log, proxy.HandleError(err))
		return
	}
	defer resp.Close()

	switch resp.Kind {
	case proxy.KindJSON:
	case proxy.KindNotFound:
		writeError(w, log, types.NewNotFound(fmt.Sprintf("Experience %q not found", experience)))
		return
	default:
		log.Warn("unexpected waypoint response", "service", h.service, "kind", resp.Kind.String())
		writeError(w, log, types.NewErrorResponse(http.StatusBadGateway, fmt.Sprintf("Invalid response from %s service", h.service)))
		return
	}

	waypoints, err := decodeWaypoints(resp.JSON)
	if err != nil {
		log.Warn("failed to decode waypoints", "service", h.service, "error", err)
		writeError(w, log, types.NewErrorResponse(http.StatusBadGateway, fmt.Sprintf("Invalid response from %s service", h.service)))
		return
	}

	locations := geo.Nearby(waypoints, lat, lng, radius*1000)
	_ = proxy.WriteJSONResponse(w, http.StatusOK, NearbyResponse{
		Experience: experience,
		Lat:        lat,
		Lng:        lng,
		RadiusKM:   radius,
		Count:      len(locations),
		Locations:  locations,
	})
}

// decodeWaypoints accepts a bare array, {"waypoints": [...]} or a map keyed
// by waypoint ID.
func decodeWaypoints(data json.RawMessage) ([]geo.Waypoint, error) {
	var list []geo.Waypoint
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Waypoints json.RawMessage `json:"waypoints"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if len(wrapped.Waypoints) == 0 {
		return nil, fmt.Errorf("no waypoints field")
	}
	if err := json.Unmarshal(wrapped.Waypoints, &list); err == nil {
		return list, nil
	}

	var byID map[string]geo.Waypoint
	if err := json.Unmarshal(wrapped.Waypoints, &byID); err != nil {
		return nil, err
	}
	for id, wp := range byID {
		if wp.ID == "" {
			wp.ID = id
		}
		list = append(list, wp)
	}
	return list, nil
}

func parseFloat(q url.Values, name string, def *float64) (float64, error) {
	raw := q.Get(name)
	if raw == "" {
		if def != nil {
			return *def, nil
		}
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

func forwardedAuth(r *http.Request) http.Header {
	h := http.Header{}
	for _, k := range []string{"Authorization", "X-API-Key"} {
		if v := r.Header.Get(k); v != "" {
			h.Set(k, v)
		}
	}
	return h
}
