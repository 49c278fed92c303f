package geo

import "sort"

// Location is a KB waypoint position.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Media describes what a client plays or shows at a waypoint.
type Media struct {
	Audio       string `json:"audio,omitempty"`
	VisualFX    string `json:"visual_fx,omitempty"`
	Interaction string `json:"interaction,omitempty"`
	ImagePrompt string `json:"image_prompt,omitempty"`
}

// Waypoint is the knowledge-base representation of a point of interest.
type Waypoint struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	WaypointType string    `json:"waypoint_type,omitempty"`
	Location     *Location `json:"location,omitempty"`
	Media        *Media    `json:"media,omitempty"`
}

// GPS is the Unity coordinate block.
type GPS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UnityLocation is the waypoint shape Unity clients render.
type UnityLocation struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"`
	GPS         GPS            `json:"gps"`
	Media       map[string]any `json:"media,omitempty"`
	DistanceM   float64        `json:"distance_m"`
}

// ToUnity converts a KB waypoint. Waypoints without a location (pathway
// segments, narrative-only nodes) cannot be placed and return false.
func ToUnity(w Waypoint) (UnityLocation, bool) {
	if w.Location == nil {
		return UnityLocation{}, false
	}

	typ := w.WaypointType
	if typ == "" {
		typ = "waypoint"
	}

	loc := UnityLocation{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Type:        typ,
		GPS:         GPS{Latitude: w.Location.Lat, Longitude: w.Location.Lng},
	}

	if w.Media != nil {
		media := make(map[string]any)
		if w.Media.Audio != "" {
			media["audio"] = w.Media.Audio
		}
		if w.Media.VisualFX != "" {
			media["visual_fx"] = w.Media.VisualFX
		}
		if w.Media.Interaction != "" {
			media["interaction"] = w.Media.Interaction
		}
		if w.Media.ImagePrompt != "" {
			media["image_prompt"] = w.Media.ImagePrompt
		}
		if len(media) > 0 {
			loc.Media = media
		}
	}

	return loc, true
}

// Nearby converts the waypoints within radiusMeters of (lat, lng) and
// returns them nearest first.
func Nearby(waypoints []Waypoint, lat, lng, radiusMeters float64) []UnityLocation {
	out := make([]UnityLocation, 0, len(waypoints))
	for _, w := range waypoints {
		loc, ok := ToUnity(w)
		if !ok {
			continue
		}
		d := Haversine(lat, lng, loc.GPS.Latitude, loc.GPS.Longitude)
		if d > radiusMeters {
			continue
		}
		loc.DistanceM = d
		out = append(out, loc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	return out
}
