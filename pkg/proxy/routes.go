package proxy

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
)

// ServiceRoute is one backend service.
type ServiceRoute struct {
	Name    string
	BaseURL string
}

// Route binds an inbound path prefix to a service.
type Route struct {
	Prefix      string
	Service     string
	StripPrefix bool
	Stream      bool
}

// Table is the immutable service and route table.
type Table struct {
	services map[string]ServiceRoute
	routes   []Route
}

// NewTable builds a table from configuration. Routes are sorted so that the
// longest prefix is tried first.
func NewTable(services map[string]string, routes []config.RouteConfig) (*Table, error) {
	t := &Table{services: make(map[string]ServiceRoute, len(services))}

	for name, base := range services {
		if _, err := url.Parse(base); err != nil {
			return nil, fmt.Errorf("service %s: invalid base URL %q: %w", name, base, err)
		}
		t.services[name] = ServiceRoute{Name: name, BaseURL: strings.TrimRight(base, "/")}
	}

	for _, rc := range routes {
		if _, ok := t.services[rc.Service]; !ok {
			return nil, fmt.Errorf("route %s: unknown service %q", rc.Prefix, rc.Service)
		}
		t.routes = append(t.routes, Route{
			Prefix:      strings.TrimRight(rc.Prefix, "/"),
			Service:     rc.Service,
			StripPrefix: rc.StripPrefix,
			Stream:      rc.Stream,
		})
	}
	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(t.routes[i].Prefix) > len(t.routes[j].Prefix)
	})

	return t, nil
}

// Lookup returns the service registered under name.
func (t *Table) Lookup(name string) (ServiceRoute, bool) {
	s, ok := t.services[name]
	return s, ok
}

// Services returns every registered service name, sorted.
func (t *Table) Services() []string {
	names := make([]string, 0, len(t.services))
	for name := range t.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Match finds the route for path and returns it together with the path to
// send upstream. A prefix matches only on a segment boundary, so /api/v1/kb
// matches /api/v1/kb/search but not /api/v1/kbx.
func (t *Table) Match(path string) (Route, string, bool) {
	for _, r := range t.routes {
		if path != r.Prefix && !strings.HasPrefix(path, r.Prefix+"/") {
			continue
		}
		upstream := path
		if r.StripPrefix {
			upstream = strings.TrimPrefix(path, r.Prefix)
			if upstream == "" {
				upstream = "/"
			}
		}
		return r, upstream, true
	}
	return Route{}, "", false
}
