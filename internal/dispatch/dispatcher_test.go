package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/cache"
	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/discovery"
	"github.com/vyrodovalexey/routegw/internal/downstream"
	"github.com/vyrodovalexey/routegw/internal/loadbalancer"
	"github.com/vyrodovalexey/routegw/internal/router"
	"github.com/vyrodovalexey/routegw/internal/util"
)

func testRoute(name, upstream, downstream string) config.RouteConfig {
	return config.RouteConfig{
		Name:                   name,
		UpstreamPathTemplate:   upstream,
		DownstreamPathTemplate: downstream,
		ServiceName:            "users",
	}
}

func publish(t *testing.T, d *Dispatcher, routes ...config.RouteConfig) *router.Table {
	t.Helper()
	table, err := router.NewTable(&config.GatewayConfig{
		Spec: config.GatewaySpec{RequestIDKey: "X-Request-ID", Routes: routes},
	})
	require.NoError(t, err)
	d.Publish(table)
	return table
}

func staticResolver(eps ...discovery.Endpoint) discovery.Resolver {
	return discovery.ResolverFunc(func(_ context.Context, service string) ([]discovery.Endpoint, error) {
		if service != "users" {
			return nil, discovery.ErrUnknownService
		}
		return eps, nil
	})
}

func okCaller(calls *atomic.Int32, seen chan<- *downstream.Request) downstream.Caller {
	return downstream.CallerFunc(func(_ context.Context, req *downstream.Request) (*downstream.Response, error) {
		calls.Add(1)
		if seen != nil {
			seen <- req
		}
		return &downstream.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       []byte(`{"ok":true}`),
		}, nil
	})
}

var usersEndpoint = discovery.Endpoint{Host: "10.0.0.1", Port: 8080}

func TestDispatch_ForwardsToResolvedEndpoint(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	seen := make(chan *downstream.Request, 1)
	d := New(router.NewStore(), staticResolver(usersEndpoint), okCaller(&calls, seen))
	publish(t, d, testRoute("users", "/api/users/{id}", "/users/{id}"))

	res, err := d.Dispatch(context.Background(), &Request{
		Method:    http.MethodGet,
		Path:      "/api/users/42",
		RawQuery:  "expand=true",
		Header:    http.Header{"Accept": []string{"application/json"}},
		RequestID: "req-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "users", res.Route)
	assert.Equal(t, "10.0.0.1:8080", res.Endpoint)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, `{"ok":true}`, string(res.Body))
	assert.False(t, res.CacheHit)

	req := <-seen
	assert.Equal(t, "http://10.0.0.1:8080/users/42?expand=true", req.URL)
	assert.Equal(t, "req-1", req.Header.Get("X-Request-ID"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
}

func TestDispatch_KeepsEscapedPlaceholders(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	seen := make(chan *downstream.Request, 1)
	d := New(router.NewStore(), staticResolver(usersEndpoint), okCaller(&calls, seen))
	publish(t, d, testRoute("files", "/files/{name}", "/blobs/{name}"))

	_, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/files/a%2Fb"})
	require.NoError(t, err)

	req := <-seen
	assert.Equal(t, "http://10.0.0.1:8080/blobs/a%2Fb", req.URL)
}

func TestDispatch_MergesTemplateQuery(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	seen := make(chan *downstream.Request, 1)
	d := New(router.NewStore(), staticResolver(usersEndpoint), okCaller(&calls, seen))
	publish(t, d, testRoute("search", "/search/{q}", "/find/{q}?lang=en"))

	_, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/search/go", RawQuery: "page=2"})
	require.NoError(t, err)

	req := <-seen
	assert.Equal(t, "http://10.0.0.1:8080/find/go?lang=en&page=2", req.URL)
}

func TestDispatch_InlineHostsBypassResolver(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	seen := make(chan *downstream.Request, 1)
	resolver := discovery.ResolverFunc(func(context.Context, string) ([]discovery.Endpoint, error) {
		return nil, errors.New("resolver must not be called")
	})
	d := New(router.NewStore(), resolver, okCaller(&calls, seen))

	rc := testRoute("inline", "/inline", "/")
	rc.ServiceName = ""
	rc.DownstreamHostAndPorts = []config.EndpointConfig{{Host: "backend", Port: 9000}}
	publish(t, d, rc)

	res, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/inline"})
	require.NoError(t, err)
	assert.Equal(t, "backend:9000", res.Endpoint)
	assert.Equal(t, "http://backend:9000/", (<-seen).URL)
}

func TestDispatch_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		resolver discovery.Resolver
		path     string
		want     error
	}{
		{
			name:     "no route",
			resolver: staticResolver(usersEndpoint),
			path:     "/unknown",
			want:     util.ErrNoRouteMatched,
		},
		{
			name:     "empty endpoint set",
			resolver: staticResolver(),
			path:     "/api/users/1",
			want:     util.ErrNoAvailableEndpoint,
		},
		{
			name: "resolver failure",
			resolver: discovery.ResolverFunc(func(context.Context, string) ([]discovery.Endpoint, error) {
				return nil, errors.New("registry down")
			}),
			path: "/api/users/1",
			want: util.ErrNoAvailableEndpoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			d := New(router.NewStore(), tt.resolver, okCaller(&calls, nil))
			publish(t, d, testRoute("users", "/api/users/{id}", "/users/{id}"))

			_, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: tt.path})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, calls.Load())
		})
	}
}

func TestDispatch_DownstreamTransportError(t *testing.T) {
	t.Parallel()

	caller := downstream.CallerFunc(func(context.Context, *downstream.Request) (*downstream.Response, error) {
		return nil, errors.New("connection refused")
	})
	d := New(router.NewStore(), staticResolver(usersEndpoint), caller)
	publish(t, d, testRoute("users", "/api/users/{id}", "/users/{id}"))

	_, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/api/users/1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrDownstreamError)
}

func TestDispatch_CacheHitSkipsDownstream(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mem := cache.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })

	d := New(router.NewStore(), staticResolver(usersEndpoint), okCaller(&calls, nil), WithCache(mem))
	rc := testRoute("users", "/api/users/{id}", "/users/{id}")
	rc.Cache = &config.RouteCacheConfig{TTL: config.Duration(time.Minute), Region: "users"}
	publish(t, d, rc)

	req := &Request{Method: http.MethodGet, Path: "/api/users/7"}

	first, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, http.StatusOK, second.Status)
	assert.Equal(t, int32(1), calls.Load())

	cleared, err := mem.ClearRegion(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	third, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatch_ErrorResponsesAreNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	caller := downstream.CallerFunc(func(context.Context, *downstream.Request) (*downstream.Response, error) {
		calls.Add(1)
		return &downstream.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
	})
	mem := cache.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })

	d := New(router.NewStore(), staticResolver(usersEndpoint), caller, WithCache(mem))
	rc := testRoute("users", "/api/users/{id}", "/users/{id}")
	rc.Cache = &config.RouteCacheConfig{TTL: config.Duration(time.Minute), Region: "users"}
	publish(t, d, rc)

	for range 2 {
		res, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/api/users/7"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, res.Status)
		assert.False(t, res.CacheHit)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatch_InFlightRequestKeepsItsTable(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	caller := downstream.CallerFunc(func(context.Context, *downstream.Request) (*downstream.Response, error) {
		close(entered)
		<-release
		return &downstream.Response{StatusCode: http.StatusOK, Header: http.Header{}}, nil
	})

	d := New(router.NewStore(), staticResolver(usersEndpoint), caller)
	publish(t, d, testRoute("v1", "/api/users/{id}", "/users/{id}"))

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/api/users/1"})
		done <- outcome{res: res, err: err}
	}()

	<-entered
	publish(t, d, testRoute("v2", "/api/orders/{id}", "/orders/{id}"))
	close(release)

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "v1", out.res.Route)

	_, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/api/users/1"})
	assert.ErrorIs(t, err, util.ErrNoRouteMatched)
}

func TestDispatch_RateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d := New(router.NewStore(), staticResolver(usersEndpoint), okCaller(&calls, nil))
	rc := testRoute("users", "/api/users/{id}", "/users/{id}")
	rc.RateLimit = &config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	publish(t, d, rc)

	req := &Request{Method: http.MethodGet, Path: "/api/users/1"}
	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrRateLimited)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatch_CircuitOpensAfterFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	caller := downstream.CallerFunc(func(context.Context, *downstream.Request) (*downstream.Response, error) {
		calls.Add(1)
		return &downstream.Response{StatusCode: http.StatusInternalServerError, Header: http.Header{}}, nil
	})
	d := New(router.NewStore(), staticResolver(usersEndpoint), caller)
	rc := testRoute("users", "/api/users/{id}", "/users/{id}")
	rc.QoS = &config.QoSConfig{
		ExceptionsAllowedBeforeBreaking: 2,
		DurationOfBreak:                 config.Duration(time.Minute),
		SuccessThresholdToClose:         1,
	}
	publish(t, d, rc)

	req := &Request{Method: http.MethodGet, Path: "/api/users/1"}
	for range 2 {
		res, err := d.Dispatch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, res.Status)
	}

	_, err := d.Dispatch(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatch_Timeout(t *testing.T) {
	t.Parallel()

	balancer := loadbalancer.New()
	caller := downstream.CallerFunc(func(ctx context.Context, _ *downstream.Request) (*downstream.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := New(router.NewStore(), staticResolver(usersEndpoint), caller, WithBalancer(balancer))
	rc := testRoute("users", "/api/users/{id}", "/users/{id}")
	rc.LoadBalancer = config.LoadBalancerLeastConnection
	rc.QoS = &config.QoSConfig{Timeout: config.Duration(20 * time.Millisecond)}
	publish(t, d, rc)

	_, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/api/users/1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrDownstreamTimeout)
	assert.Zero(t, balancer.InFlight("users", usersEndpoint.Address()))
}

func TestDispatch_ClientCancel(t *testing.T) {
	t.Parallel()

	balancer := loadbalancer.New()
	started := make(chan struct{})
	caller := downstream.CallerFunc(func(ctx context.Context, _ *downstream.Request) (*downstream.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := New(router.NewStore(), staticResolver(usersEndpoint), caller, WithBalancer(balancer))
	rc := testRoute("users", "/api/users/{id}", "/users/{id}")
	rc.LoadBalancer = config.LoadBalancerLeastConnection
	publish(t, d, rc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctx, &Request{Method: http.MethodGet, Path: "/api/users/1"})
		errCh <- err
	}()

	<-started
	assert.Equal(t, int64(1), balancer.InFlight("users", usersEndpoint.Address()))
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrRequestCanceled)
	assert.Zero(t, balancer.InFlight("users", usersEndpoint.Address()))
}

func TestDispatch_LeastConnectionReleasedOnEveryOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		caller downstream.CallerFunc
	}{
		{
			name: "success",
			caller: func(context.Context, *downstream.Request) (*downstream.Response, error) {
				return &downstream.Response{StatusCode: http.StatusOK}, nil
			},
		},
		{
			name: "error status",
			caller: func(context.Context, *downstream.Request) (*downstream.Response, error) {
				return &downstream.Response{StatusCode: http.StatusBadGateway}, nil
			},
		},
		{
			name: "transport error",
			caller: func(context.Context, *downstream.Request) (*downstream.Response, error) {
				return nil, errors.New("connection refused")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			balancer := loadbalancer.New()
			d := New(router.NewStore(), staticResolver(usersEndpoint), tt.caller, WithBalancer(balancer))
			rc := testRoute("users", "/api/users/{id}", "/users/{id}")
			rc.LoadBalancer = config.LoadBalancerLeastConnection
			publish(t, d, rc)

			for range 3 {
				_, _ = d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/api/users/1"})
			}
			assert.Zero(t, balancer.InFlight("users", usersEndpoint.Address()))
		})
	}
}

func TestDispatch_FillsRequestInfo(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d := New(router.NewStore(), staticResolver(usersEndpoint), okCaller(&calls, nil))
	publish(t, d, testRoute("users", "/api/users/{id}", "/users/{id}"))

	info := &util.RequestInfo{}
	ctx := util.ContextWithRequestInfo(context.Background(), info)

	_, err := d.Dispatch(ctx, &Request{Method: http.MethodGet, Path: "/api/users/1"})
	require.NoError(t, err)
	assert.Equal(t, "users", info.Route)
	assert.Equal(t, "10.0.0.1:8080", info.Endpoint)
}

func TestPublish_PrunesRemovedRoutes(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d := New(router.NewStore(), staticResolver(usersEndpoint), okCaller(&calls, nil))
	rc := testRoute("users", "/api/users/{id}", "/users/{id}")
	rc.RateLimit = &config.RateLimitConfig{RequestsPerSecond: 100, Burst: 10}
	publish(t, d, rc)

	_, err := d.Dispatch(context.Background(), &Request{Method: http.MethodGet, Path: "/api/users/1"})
	require.NoError(t, err)
	assert.Equal(t, 1, d.limiters.len())
	assert.Equal(t, 1, d.seen.len())

	publish(t, d, testRoute("orders", "/api/orders/{id}", "/orders/{id}"))
	assert.Zero(t, d.limiters.len())
	assert.Zero(t, d.seen.len())
}
