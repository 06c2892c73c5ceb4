// Package dispatch runs the per-request pipeline: match the route,
// build the downstream path, consult the cache, resolve and select an
// endpoint, call it through the QoS governor and store the response.
//
// Every failure is returned as an error from the util taxonomy; the
// caller maps it to a response.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/routegw/internal/cache"
	"github.com/vyrodovalexey/routegw/internal/discovery"
	"github.com/vyrodovalexey/routegw/internal/downstream"
	"github.com/vyrodovalexey/routegw/internal/loadbalancer"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/qos"
	"github.com/vyrodovalexey/routegw/internal/router"
	"github.com/vyrodovalexey/routegw/internal/util"
)

const tracerName = "routegw/dispatch"

// Request is an inbound request as seen by the dispatcher.
type Request struct {
	Method string
	// Path is the escaped request path.
	Path      string
	RawQuery  string
	Header    http.Header
	Body      []byte
	RequestID string
}

// Result is a response to return to the client.
type Result struct {
	Route        string
	Endpoint     string
	Status       int
	Header       http.Header
	Body         []byte
	CacheHit     bool
	RequestIDKey string
}

// Dispatcher wires the pipeline stages together. All per-request state
// lives in the balancer, the governor, the cache and the rate limiters.
type Dispatcher struct {
	store    *router.Store
	resolver discovery.Resolver
	caller   downstream.Caller
	balancer *loadbalancer.Balancer
	governor *qos.Governor
	cache    cache.Cache
	limiters *limiters
	seen     *endpointSets
	now      func() time.Time
	logger   observability.Logger
	metrics  *Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBalancer sets the load balancer.
func WithBalancer(b *loadbalancer.Balancer) Option {
	return func(d *Dispatcher) {
		d.balancer = b
	}
}

// WithGovernor sets the QoS governor.
func WithGovernor(g *qos.Governor) Option {
	return func(d *Dispatcher) {
		d.governor = g
	}
}

// WithCache enables response caching for routes with a cache policy.
func WithCache(c cache.Cache) Option {
	return func(d *Dispatcher) {
		d.cache = c
	}
}

// WithClock overrides the time source used for cache entries.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New creates a Dispatcher reading routes from store.
func New(store *router.Store, resolver discovery.Resolver, caller downstream.Caller, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		resolver: resolver,
		caller:   caller,
		limiters: newLimiters(),
		seen:     newEndpointSets(),
		now:      time.Now,
		logger:   observability.NopLogger(),
		metrics:  GetMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.balancer == nil {
		d.balancer = loadbalancer.New()
	}
	if d.governor == nil {
		d.governor = qos.NewGovernor(qos.WithLogger(d.logger))
	}
	return d
}

// Store returns the route table store.
func (d *Dispatcher) Store() *router.Store {
	return d.store
}

// Governor returns the QoS governor.
func (d *Dispatcher) Governor() *qos.Governor {
	return d.governor
}

// Cache returns the response cache, or nil when caching is disabled.
func (d *Dispatcher) Cache() cache.Cache {
	return d.cache
}

// Publish makes t the current table. Requests already running keep the
// table they loaded. Balancer, circuit and rate limiter state of routes
// missing from t is dropped.
func (d *Dispatcher) Publish(t *router.Table) *router.Table {
	old := d.store.Publish(t)

	keep := make(map[string]struct{}, t.Len())
	for _, r := range t.Routes() {
		keep[r.Name] = struct{}{}
	}
	d.balancer.Prune(keep)
	d.governor.Prune(keep)
	d.limiters.prune(keep)
	d.seen.prune(keep)

	d.logger.Info("route table published",
		observability.Uint64("version", t.Version()),
		observability.Int("routes", t.Len()),
	)
	return old
}

// Dispatch serves one request against the table current at entry.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	table := d.store.Load()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.Int64("routegw.table_version", int64(table.Version())),
		),
	)
	defer span.End()

	res, err := d.dispatch(ctx, table, req)

	route := "unmatched"
	if res != nil && res.Route != "" {
		route = res.Route
	} else if info := util.RequestInfoFromContext(ctx); info != nil && info.Route != "" {
		route = info.Route
	}
	d.metrics.outcomesTotal.WithLabelValues(route, outcomeLabel(res, err)).Inc()

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("routegw.route", res.Route),
		attribute.Bool("routegw.cache_hit", res.CacheHit),
		attribute.Int("http.status_code", res.Status),
	)
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, table *router.Table, req *Request) (*Result, error) {
	match, ok := table.Match(req.Method, req.Path)
	if !ok {
		return nil, util.NewRouteNotFoundError(req.Method, req.Path)
	}
	route := match.Route
	info := util.RequestInfoFromContext(ctx)
	if info != nil {
		info.Route = route.Name
	}

	if route.RateLimit != nil && !d.limiters.allow(route.Name, route.RateLimit) {
		return nil, util.NewRateLimitError(route.Name, route.RateLimit.RequestsPerSecond)
	}

	path, err := route.BuildDownstreamPath(match.Placeholders)
	if err != nil {
		d.logger.Error("downstream path could not be built",
			observability.String("route", route.Name),
			observability.Error(err),
		)
		return nil, err
	}

	var cacheKey string
	cacheable := route.Cache != nil && d.cache != nil && cache.Cacheable(req.Method)
	if cacheable {
		cacheKey = cache.Key(cache.KeyInput{
			Region:      route.Cache.Region,
			Method:      req.Method,
			Path:        path,
			RawQuery:    req.RawQuery,
			Header:      req.Header,
			VaryHeaders: route.Cache.VaryHeaders,
			Body:        req.Body,
		})
		if res := d.lookup(ctx, route, cacheKey); res != nil {
			if info != nil {
				info.CacheHit = true
			}
			return res, nil
		}
	}

	endpoints, err := d.resolve(ctx, route)
	if err != nil {
		return nil, err
	}

	lease, err := d.balancer.Select(route.Name, route.LoadBalancer, endpoints)
	if err != nil {
		return nil, util.NewEndpointError(route.ServiceKey(), err)
	}
	defer lease.Release()

	endpoint := lease.Endpoint.Address()
	if info != nil {
		info.Endpoint = endpoint
	}

	resp, err := d.call(ctx, route, endpoint, path, req)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Route:        route.Name,
		Endpoint:     endpoint,
		Status:       resp.StatusCode,
		Header:       resp.Header,
		Body:         resp.Body,
		RequestIDKey: route.RequestIDKey,
	}

	if cacheable && resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		entry := &cache.Entry{
			Status:     resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       resp.Body,
			InsertedAt: d.now(),
			Region:     route.Cache.Region,
		}
		if err := d.cache.Set(ctx, cacheKey, entry, route.Cache.TTL.Duration()); err != nil {
			d.logger.Warn("failed to store response in cache",
				observability.String("route", route.Name),
				observability.Error(err),
			)
		}
	}
	return res, nil
}

func (d *Dispatcher) lookup(ctx context.Context, route *router.Route, key string) *Result {
	entry, err := d.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			d.logger.Warn("cache lookup failed",
				observability.String("route", route.Name),
				observability.Error(err),
			)
		}
		return nil
	}
	return &Result{
		Route:        route.Name,
		Status:       entry.Status,
		Header:       entry.Header.Clone(),
		Body:         entry.Body,
		CacheHit:     true,
		RequestIDKey: route.RequestIDKey,
	}
}

// resolve returns the candidate endpoints of route. Inline hosts take
// precedence over the service name.
func (d *Dispatcher) resolve(ctx context.Context, route *router.Route) ([]discovery.Endpoint, error) {
	if len(route.Hosts) > 0 {
		return discovery.FromConfig(route.Hosts), nil
	}

	endpoints, err := d.resolver.Resolve(ctx, route.ServiceName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", util.ErrRequestCanceled, ctx.Err())
		}
		d.logger.Warn("service resolution failed",
			observability.String("route", route.Name),
			observability.String("service", route.ServiceName),
			observability.Error(err),
		)
		return nil, util.NewEndpointError(route.ServiceName, err)
	}
	if len(endpoints) == 0 {
		return nil, util.NewEndpointError(route.ServiceName, nil)
	}

	if d.seen.observe(route.Name, endpoints) {
		d.governor.PruneEndpoints(route.Name, addresses(endpoints))
	}
	return endpoints, nil
}

func (d *Dispatcher) call(ctx context.Context, route *router.Route, endpoint, path string,
	req *Request) (*downstream.Response, error) {
	rawQuery := req.RawQuery
	if i := strings.IndexByte(path, '?'); i >= 0 {
		rawQuery = joinQuery(path[i+1:], rawQuery)
		path = path[:i]
	}

	target := url.URL{
		Scheme:   route.Scheme,
		Host:     endpoint,
		RawPath:  path,
		RawQuery: rawQuery,
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		target.Path = unescaped
	} else {
		target.Path = path
	}

	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if req.RequestID != "" && header.Get(route.RequestIDKey) == "" {
		header.Set(route.RequestIDKey, req.RequestID)
	}
	observability.InjectTraceContext(ctx, header)

	dreq := &downstream.Request{
		Method: req.Method,
		URL:    target.String(),
		Header: header,
		Body:   req.Body,
	}

	start := time.Now()
	out, err := d.governor.Execute(ctx, route.Name, endpoint, route.QoS, func(ctx context.Context) (qos.Outcome, error) {
		resp, err := d.caller.Call(ctx, dreq)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	d.metrics.downstreamTiming.WithLabelValues(route.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case errors.Is(err, util.ErrCircuitOpen),
			errors.Is(err, util.ErrDownstreamTimeout),
			errors.Is(err, util.ErrRequestCanceled):
			return nil, err
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %w", util.ErrRequestCanceled, ctx.Err())
		default:
			return nil, util.NewDownstreamError(route.Name, endpoint, err)
		}
	}
	return out.(*downstream.Response), nil
}

// joinQuery appends the request query to a query fixed by the
// downstream template.
func joinQuery(fixed, request string) string {
	switch {
	case fixed == "":
		return request
	case request == "":
		return fixed
	default:
		return fixed + "&" + request
	}
}

func addresses(endpoints []discovery.Endpoint) map[string]struct{} {
	out := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		out[ep.Address()] = struct{}{}
	}
	return out
}

func outcomeLabel(res *Result, err error) string {
	switch {
	case err == nil && res.CacheHit:
		return "cache_hit"
	case err == nil:
		return "success"
	case errors.Is(err, util.ErrNoRouteMatched):
		return "no_route"
	case errors.Is(err, util.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, util.ErrNoAvailableEndpoint):
		return "no_endpoint"
	case errors.Is(err, util.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, util.ErrDownstreamTimeout):
		return "timeout"
	case errors.Is(err, util.ErrRequestCanceled):
		return "canceled"
	case errors.Is(err, util.ErrDownstreamError):
		return "downstream_error"
	default:
		return "internal_error"
	}
}
