package proxy

import (
	"fmt"
	"net/url"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/meshwise/depscope/pkg/domain"
)

// Route binds an authority to its upstream cluster identity and backend.
type Route struct {
	Cluster string
	Backend *url.URL
}

type routeSpec struct {
	Cluster string `yaml:"cluster"`
	Backend string `yaml:"backend"`
}

type routesFile struct {
	// Routes maps the request authority (host header) to its upstream. The
	// "*" key, when present, is the catch-all route.
	Routes map[string]routeSpec `yaml:"routes"`
}

// RouteTable resolves request authorities to upstream routes. The table is
// swapped wholesale on reload, so lookups racing a reload see either the
// old or the new table, never a partial one.
type RouteTable struct {
	mu          sync.RWMutex
	byAuthority map[string]Route
}

// NewRouteTable constructs an empty table; Resolve misses until LoadFile
// succeeds.
func NewRouteTable() *RouteTable {
	return &RouteTable{byAuthority: map[string]Route{}}
}

// LoadFile parses the YAML route file and swaps the table in. On any error
// the previous table stays in effect.
func (t *RouteTable) LoadFile(path string) error {
	//nolint:gosec // Route file path is controlled by admin/operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read routes file %s: %w", path, err)
	}

	var file routesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse routes file %s: %w", path, err)
	}

	next := make(map[string]Route, len(file.Routes))
	for authority, spec := range file.Routes {
		if spec.Cluster == "" {
			return fmt.Errorf("route %q: cluster is required", authority)
		}
		backend, err := url.Parse(spec.Backend)
		if err != nil || backend.Scheme == "" || backend.Host == "" {
			return fmt.Errorf("route %q: invalid backend %q", authority, spec.Backend)
		}
		next[authority] = Route{Cluster: spec.Cluster, Backend: backend}
	}

	t.mu.Lock()
	t.byAuthority = next
	t.mu.Unlock()
	return nil
}

// Resolve returns the route for an authority, falling back to the "*"
// catch-all when configured.
func (t *RouteTable) Resolve(authority string) (Route, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if route, ok := t.byAuthority[authority]; ok {
		return route, nil
	}
	if route, ok := t.byAuthority["*"]; ok {
		return route, nil
	}
	return Route{}, &domain.Error{
		Err:     domain.ErrRouteNotFound,
		Code:    "route_miss",
		Details: map[string]any{"authority": authority},
	}
}

// Len reports the number of configured routes.
func (t *RouteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAuthority)
}
