package dispatch

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/discovery"
	"github.com/vyrodovalexey/routegw/internal/router"
)

func TestEndpointSets_Observe(t *testing.T) {
	t.Parallel()

	a := discovery.Endpoint{Host: "10.0.0.1", Port: 8080}
	b := discovery.Endpoint{Host: "10.0.0.2", Port: 8080}

	tests := []struct {
		name  string
		steps [][]discovery.Endpoint
		want  []bool
	}{
		{
			name:  "first set is a change",
			steps: [][]discovery.Endpoint{{a}},
			want:  []bool{true},
		},
		{
			name:  "same set again",
			steps: [][]discovery.Endpoint{{a, b}, {a, b}, {a, b}},
			want:  []bool{true, false, false},
		},
		{
			name:  "order does not matter",
			steps: [][]discovery.Endpoint{{a, b}, {b, a}},
			want:  []bool{true, false},
		},
		{
			name:  "endpoint removed and added back",
			steps: [][]discovery.Endpoint{{a, b}, {a}, {a, b}},
			want:  []bool{true, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newEndpointSets()
			for i, eps := range tt.steps {
				assert.Equal(t, tt.want[i], s.observe("users", eps), "step %d", i)
			}
		})
	}
}

func TestEndpointSets_RoutesAreIndependent(t *testing.T) {
	t.Parallel()

	s := newEndpointSets()
	eps := []discovery.Endpoint{{Host: "10.0.0.1", Port: 8080}}

	assert.True(t, s.observe("users", eps))
	assert.True(t, s.observe("orders", eps))
	assert.False(t, s.observe("users", eps))

	s.prune(map[string]struct{}{"orders": {}})
	assert.Equal(t, 1, s.len())
	assert.True(t, s.observe("users", eps))
}

func TestDispatch_PrunesCircuitsWhenEndpointsChange(t *testing.T) {
	t.Parallel()

	first := discovery.Endpoint{Host: "10.0.0.1", Port: 8080}
	second := discovery.Endpoint{Host: "10.0.0.2", Port: 8080}

	var current atomic.Pointer[[]discovery.Endpoint]
	current.Store(&[]discovery.Endpoint{first})
	resolver := discovery.ResolverFunc(func(context.Context, string) ([]discovery.Endpoint, error) {
		return *current.Load(), nil
	})

	var calls atomic.Int32
	d := New(router.NewStore(), resolver, okCaller(&calls, nil))
	rc := testRoute("users", "/api/users/{id}", "/users/{id}")
	rc.QoS = &config.QoSConfig{
		ExceptionsAllowedBeforeBreaking: 3,
		DurationOfBreak:                 config.Duration(time.Minute),
		SuccessThresholdToClose:         1,
	}
	publish(t, d, rc)

	req := &Request{Method: http.MethodGet, Path: "/api/users/1"}
	for range 3 {
		_, err := d.Dispatch(context.Background(), req)
		require.NoError(t, err)
	}
	assert.NotNil(t, d.Governor().Circuit("users", first.Address()))

	current.Store(&[]discovery.Endpoint{second})
	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.Nil(t, d.Governor().Circuit("users", first.Address()))
	assert.NotNil(t, d.Governor().Circuit("users", second.Address()))
	assert.Equal(t, int32(4), calls.Load())
}
