package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/config"
)

func TestEndpoint_Address(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ep   Endpoint
		want string
	}{
		{name: "hostname", ep: Endpoint{Host: "users.internal", Port: 8080}, want: "users.internal:8080"},
		{name: "ipv4", ep: Endpoint{Host: "10.0.0.1", Port: 80}, want: "10.0.0.1:80"},
		{name: "ipv6", ep: Endpoint{Host: "::1", Port: 9000}, want: "[::1]:9000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ep.Address())
			assert.Equal(t, tt.want, tt.ep.String())
		})
	}
}

func TestStatic_Resolve(t *testing.T) {
	t.Parallel()

	s := NewStatic([]config.ServiceConfig{
		{Name: "users", Endpoints: []config.EndpointConfig{
			{Host: "a", Port: 1, Tag: "primary"},
			{Host: "b", Port: 2},
		}},
		{Name: "empty"},
	})

	eps, err := s.Resolve(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{{Host: "a", Port: 1, Tag: "primary"}, {Host: "b", Port: 2}}, eps)

	eps, err = s.Resolve(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, eps)

	_, err = s.Resolve(context.Background(), "orders")
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestComposite_Resolve(t *testing.T) {
	t.Parallel()

	static := NewStatic([]config.ServiceConfig{
		{Name: "users", Endpoints: []config.EndpointConfig{{Host: "static", Port: 1}}},
	})
	dynamicErr := errors.New("registry down")

	tests := []struct {
		name    string
		dynamic Resolver
		service string
		want    []Endpoint
		wantErr error
	}{
		{
			name:    "static wins",
			dynamic: ResolverFunc(func(context.Context, string) ([]Endpoint, error) { return []Endpoint{{Host: "dyn", Port: 2}}, nil }),
			service: "users",
			want:    []Endpoint{{Host: "static", Port: 1}},
		},
		{
			name:    "falls back to dynamic",
			dynamic: ResolverFunc(func(context.Context, string) ([]Endpoint, error) { return []Endpoint{{Host: "dyn", Port: 2}}, nil }),
			service: "orders",
			want:    []Endpoint{{Host: "dyn", Port: 2}},
		},
		{
			name:    "no dynamic provider",
			service: "orders",
			wantErr: ErrUnknownService,
		},
		{
			name:    "dynamic error",
			dynamic: ResolverFunc(func(context.Context, string) ([]Endpoint, error) { return nil, dynamicErr }),
			service: "orders",
			wantErr: dynamicErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewComposite(static, tt.dynamic)
			eps, err := c.Resolve(context.Background(), tt.service)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, eps)
		})
	}
}

func TestComposite_SetStatic(t *testing.T) {
	t.Parallel()

	c := NewComposite(nil, nil)
	_, err := c.Resolve(context.Background(), "users")
	require.ErrorIs(t, err, ErrUnknownService)

	c.SetStatic(NewStatic([]config.ServiceConfig{
		{Name: "users", Endpoints: []config.EndpointConfig{{Host: "a", Port: 1}}},
	}))
	eps, err := c.Resolve(context.Background(), "users")
	require.NoError(t, err)
	assert.Len(t, eps, 1)
	assert.NoError(t, c.Close())
}

func TestNew_Static(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), config.DiscoveryConfig{Provider: config.DiscoveryStatic},
		[]config.ServiceConfig{{Name: "users", Endpoints: []config.EndpointConfig{{Host: "a", Port: 1}}}}, nil)
	require.NoError(t, err)
	eps, err := c.Resolve(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, "a:1", eps[0].Address())
}

func TestNew_UnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), config.DiscoveryConfig{Provider: "zookeeper"}, nil, nil)
	assert.Error(t, err)
}
