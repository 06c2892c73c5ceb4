package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/util"
)

func route(name, upstream, downstream string, methods ...string) config.RouteConfig {
	return config.RouteConfig{
		Name:                   name,
		UpstreamPathTemplate:   upstream,
		DownstreamPathTemplate: downstream,
		UpstreamHTTPMethods:    methods,
		ServiceName:            "svc",
	}
}

func gatewayConfig(routes ...config.RouteConfig) *config.GatewayConfig {
	return &config.GatewayConfig{
		Spec: config.GatewaySpec{RequestIDKey: "X-Request-ID", Routes: routes},
	}
}

func mustTable(t *testing.T, routes ...config.RouteConfig) *Table {
	t.Helper()
	table, err := NewTable(gatewayConfig(routes...))
	require.NoError(t, err)
	return table
}

func TestTable_SpecificityTieBreak(t *testing.T) {
	t.Parallel()

	table := mustTable(t,
		route("placeholder", "/a/{x}", "/x/{x}"),
		route("literal", "/a/b", "/b"),
	)

	m, ok := table.Match("GET", "/a/b")
	require.True(t, ok)
	assert.Equal(t, "literal", m.Route.Name)

	m, ok = table.Match("GET", "/a/c")
	require.True(t, ok)
	assert.Equal(t, "placeholder", m.Route.Name)
	assert.Equal(t, Placeholders{"x": "c"}, m.Placeholders)
}

func TestTable_ConfigOrderBreaksEqualSpecificity(t *testing.T) {
	t.Parallel()

	table := mustTable(t,
		route("first", "/{a}/items", "/1"),
		route("second", "/orders/{b}", "/2"),
	)

	m, ok := table.Match("GET", "/orders/items")
	require.True(t, ok)
	assert.Equal(t, "first", m.Route.Name)

	reversed := mustTable(t,
		route("second", "/orders/{b}", "/2"),
		route("first", "/{a}/items", "/1"),
	)
	m, ok = reversed.Match("GET", "/orders/items")
	require.True(t, ok)
	assert.Equal(t, "second", m.Route.Name)
}

func TestTable_Methods(t *testing.T) {
	t.Parallel()

	table := mustTable(t,
		route("read", "/orders/{id}", "/orders/{id}", "get"),
		route("write", "/orders/{id}", "/orders/{id}", "POST", "PUT"),
		route("any", "/any", "/any"),
	)

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/orders/1", "read"},
		{"POST", "/orders/1", "write"},
		{"PUT", "/orders/1", "write"},
		{"DELETE", "/orders/1", ""},
		{"PATCH", "/any", "any"},
		{"GET", "/missing", ""},
	}

	for _, tt := range tests {
		m, ok := table.Match(tt.method, tt.path)
		if tt.want == "" {
			assert.False(t, ok, "%s %s", tt.method, tt.path)
			assert.Nil(t, m)
			continue
		}
		require.True(t, ok, "%s %s", tt.method, tt.path)
		assert.Equal(t, tt.want, m.Route.Name)
	}
}

func TestTable_MethodMismatchFallsBackToLessSpecific(t *testing.T) {
	t.Parallel()

	table := mustTable(t,
		route("generic", "/a/{x}", "/g/{x}"),
		route("literal-post", "/a/b", "/b", "POST"),
	)

	m, ok := table.Match("GET", "/a/b")
	require.True(t, ok)
	assert.Equal(t, "generic", m.Route.Name)
}

func TestNewTable_RejectsInconsistentPlaceholders(t *testing.T) {
	t.Parallel()

	_, err := NewTable(gatewayConfig(route("bad", "/orders/{id}", "/orders/{orderId}")))
	assert.ErrorIs(t, err, util.ErrConfigurationInconsistency)
}

func TestNewTable_RejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	_, err := NewTable(gatewayConfig(route("dup", "/a", "/a"), route("dup", "/b", "/b")))
	assert.ErrorIs(t, err, util.ErrConfigInvalid)
}

func TestNewTable_RouteDefaults(t *testing.T) {
	t.Parallel()

	rc := route("", "/a", "/a")
	rc.ServiceName = ""
	table := mustTable(t, rc)

	r := table.Routes()[0]
	assert.Equal(t, "route-0", r.Name)
	assert.Equal(t, "http", r.Scheme)
	assert.Equal(t, "X-Request-ID", r.RequestIDKey)
	assert.Equal(t, "route:route-0", r.ServiceKey())

	got, ok := table.Route("route-0")
	assert.True(t, ok)
	assert.Same(t, r, got)
}

func TestStore_PublishAndLoad(t *testing.T) {
	t.Parallel()

	store := NewStore()
	assert.False(t, store.Published())
	assert.Equal(t, 0, store.Load().Len())
	_, ok := store.Load().Match("GET", "/")
	assert.False(t, ok)

	v1 := mustTable(t, route("one", "/x", "/v1"))
	store.Publish(v1)
	assert.True(t, store.Published())
	assert.Equal(t, uint64(1), store.Load().Version())

	v2 := mustTable(t, route("two", "/x", "/v2"))
	old := store.Publish(v2)
	assert.Same(t, v1, old)
	assert.Equal(t, uint64(2), store.Load().Version())
}

// A request holds the table it loaded; publishing a new one mid-flight
// does not change what that request sees.
func TestStore_SnapshotSurvivesPublish(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Publish(mustTable(t, route("v1", "/x/{id}", "/one/{id}")))

	snapshot := store.Load()
	m, ok := snapshot.Match("GET", "/x/7")
	require.True(t, ok)

	store.Publish(mustTable(t, route("v2", "/x/{id}", "/two/{id}")))

	path, err := m.Route.BuildDownstreamPath(m.Placeholders)
	require.NoError(t, err)
	assert.Equal(t, "/one/7", path)
	_, stillThere := snapshot.Route("v1")
	assert.True(t, stillThere)

	m2, ok := store.Load().Match("GET", "/x/7")
	require.True(t, ok)
	assert.Equal(t, "v2", m2.Route.Name)
}

func TestStore_ConcurrentPublishAndMatch(t *testing.T) {
	t.Parallel()

	store := NewStore()
	a := config.RouteConfig{Name: "r", UpstreamPathTemplate: "/x", DownstreamPathTemplate: "/a", ServiceName: "a"}
	b := config.RouteConfig{Name: "r", UpstreamPathTemplate: "/x", DownstreamPathTemplate: "/b", ServiceName: "b"}
	store.Publish(mustTable(t, a))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				table := store.Load()
				m, ok := table.Match("GET", "/x")
				if !assert.True(t, ok) {
					return
				}
				path, err := m.Route.BuildDownstreamPath(m.Placeholders)
				assert.NoError(t, err)
				// the service and path always come from the same table
				assert.Equal(t, "/"+m.Route.ServiceName, path)
			}
		}()
	}

	for i := 0; i < 100; i++ {
		cfg := a
		if i%2 == 0 {
			cfg = b
		}
		table, err := NewTable(gatewayConfig(cfg))
		require.NoError(t, err)
		store.Publish(table)
	}
	wg.Wait()
}
