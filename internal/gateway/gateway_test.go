package gateway

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/config"
)

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestNew_RequiresHandler(t *testing.T) {
	t.Parallel()

	_, err := New(config.ListenerConfig{Address: "127.0.0.1:0"}, nil)
	require.Error(t, err)
}

func TestGateway_ServesEveryPathThroughHandler(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, r.Method+" "+r.URL.EscapedPath())
	})

	g, err := New(config.ListenerConfig{Address: "127.0.0.1:0"}, handler,
		WithMiddleware(tag("outer"), tag("inner")))
	require.NoError(t, err)

	require.NoError(t, g.Start(context.Background()))
	assert.True(t, g.IsRunning())
	require.NotNil(t, g.Addr())

	resp, err := http.Get("http://" + g.Addr().String() + "/files/a%2Fb/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "GET /files/a%2Fb/", string(body))
	assert.Equal(t, []string{"outer", "inner"}, order)

	require.NoError(t, g.Stop(context.Background()))
	assert.Equal(t, StateStopped, g.State())
	assert.Error(t, g.Stop(context.Background()))
}

func TestGateway_StartTwiceFails(t *testing.T) {
	t.Parallel()

	g, err := New(config.ListenerConfig{Address: "127.0.0.1:0"}, http.NotFoundHandler())
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Stop(context.Background()) })

	assert.Error(t, g.Start(context.Background()))
}
