package router

import (
	"fmt"
	"strings"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// Route is a compiled, immutable route.
type Route struct {
	Name         string
	Index        int
	Upstream     *Template
	Downstream   *DownstreamTemplate
	Scheme       string
	ServiceName  string
	Hosts        []config.EndpointConfig
	LoadBalancer string
	QoS          *config.QoSConfig
	Cache        *config.RouteCacheConfig
	RateLimit    *config.RateLimitConfig
	RequestIDKey string

	methods map[string]struct{}
}

// AllowsMethod reports whether the route accepts method. A route with
// no configured methods accepts all of them.
func (r *Route) AllowsMethod(method string) bool {
	if len(r.methods) == 0 {
		return true
	}
	_, ok := r.methods[method]
	return ok
}

// ServiceKey identifies the endpoint set of the route: the configured
// service name, or a per-route key for inline downstream hosts.
func (r *Route) ServiceKey() string {
	if r.ServiceName != "" {
		return r.ServiceName
	}
	return "route:" + r.Name
}

// BuildDownstreamPath renders the downstream path for a match.
func (r *Route) BuildDownstreamPath(values Placeholders) (string, error) {
	return r.Downstream.Build(values)
}

// Match is the result of a successful lookup.
type Match struct {
	Route        *Route
	Placeholders Placeholders
}

// Table is an immutable, ordered set of compiled routes.
type Table struct {
	version    uint64
	routes     []*Route
	byName     map[string]*Route
	bySegments map[int][]*Route
	source     *config.GatewayConfig
}

// NewTable compiles the routes of cfg. Every downstream placeholder
// must be captured by the route's upstream template; otherwise the
// table is rejected with an InconsistencyError.
func NewTable(cfg *config.GatewayConfig) (*Table, error) {
	t := &Table{
		routes:     make([]*Route, 0, len(cfg.Spec.Routes)),
		byName:     make(map[string]*Route, len(cfg.Spec.Routes)),
		bySegments: make(map[int][]*Route),
		source:     cfg,
	}

	for i := range cfg.Spec.Routes {
		route, err := compileRoute(&cfg.Spec.Routes[i], i, cfg.Spec.RequestIDKey)
		if err != nil {
			return nil, err
		}
		if _, dup := t.byName[route.Name]; dup {
			return nil, util.NewConfigError(fmt.Sprintf("spec.routes[%d].name", i), "duplicate route name: "+route.Name)
		}

		t.routes = append(t.routes, route)
		t.byName[route.Name] = route
		n := route.Upstream.Segments()
		t.bySegments[n] = append(t.bySegments[n], route)
	}

	return t, nil
}

func compileRoute(rc *config.RouteConfig, index int, defaultRequestIDKey string) (*Route, error) {
	name := rc.Name
	if name == "" {
		name = fmt.Sprintf("route-%d", index)
	}

	upstream, err := CompileTemplate(rc.UpstreamPathTemplate)
	if err != nil {
		return nil, util.NewConfigErrorWithCause(fmt.Sprintf("spec.routes[%d].upstreamPathTemplate", index), err.Error(), err)
	}

	captured := make(map[string]bool, len(upstream.Params()))
	for _, p := range upstream.Params() {
		captured[p] = true
	}
	for _, p := range config.Placeholders(rc.DownstreamPathTemplate) {
		if !captured[p] {
			return nil, util.NewInconsistencyError(name, p)
		}
	}

	downstream, err := CompileDownstream(name, rc.DownstreamPathTemplate)
	if err != nil {
		return nil, util.NewConfigErrorWithCause(fmt.Sprintf("spec.routes[%d].downstreamPathTemplate", index), err.Error(), err)
	}

	route := &Route{
		Name:         name,
		Index:        index,
		Upstream:     upstream,
		Downstream:   downstream,
		Scheme:       rc.DownstreamScheme,
		ServiceName:  rc.ServiceName,
		Hosts:        rc.DownstreamHostAndPorts,
		LoadBalancer: rc.LoadBalancer,
		QoS:          rc.QoS,
		Cache:        rc.Cache,
		RateLimit:    rc.RateLimit,
		RequestIDKey: rc.RequestIDKey,
	}
	if route.Scheme == "" {
		route.Scheme = config.DefaultDownstreamScheme
	}
	if route.RequestIDKey == "" {
		route.RequestIDKey = defaultRequestIDKey
	}

	if len(rc.UpstreamHTTPMethods) > 0 {
		route.methods = make(map[string]struct{}, len(rc.UpstreamHTTPMethods))
		for _, m := range rc.UpstreamHTTPMethods {
			route.methods[strings.ToUpper(m)] = struct{}{}
		}
	}

	return route, nil
}

// Version returns the version assigned when the table was published,
// or 0 for an unpublished table.
func (t *Table) Version() uint64 {
	return t.version
}

// Routes returns the routes in configuration order. The slice must not
// be modified.
func (t *Table) Routes() []*Route {
	return t.routes
}

// Route returns the route with the given name.
func (t *Table) Route(name string) (*Route, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// Config returns the configuration the table was compiled from.
func (t *Table) Config() *config.GatewayConfig {
	return t.source
}

// Match finds the best route for method and escaped path. Among the
// routes whose template and method fit, the one with the most literal
// segments wins; ties go to the earlier route in configuration order.
// A false result is the normal "no route" outcome, not an error.
func (t *Table) Match(method, path string) (*Match, bool) {
	parts := splitPath(path)
	candidates := t.bySegments[len(parts)]

	var best *Match
	for _, route := range candidates {
		if best != nil && route.Upstream.Literals() <= best.Route.Upstream.Literals() {
			continue
		}
		if !route.AllowsMethod(method) {
			continue
		}
		values, ok := route.Upstream.match(parts)
		if !ok {
			continue
		}
		best = &Match{Route: route, Placeholders: values}
	}

	return best, best != nil
}
