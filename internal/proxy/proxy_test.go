package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/dispatch"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/util"
)

type dispatcherFunc func(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	return f(ctx, req)
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "no route", err: util.NewRouteNotFoundError("GET", "/x"), want: http.StatusNotFound},
		{name: "no endpoint", err: util.NewEndpointError("users", nil), want: http.StatusBadGateway},
		{name: "circuit open", err: util.NewCircuitOpenError("r", "h:1", "open"), want: http.StatusServiceUnavailable},
		{name: "timeout", err: util.NewDownstreamTimeoutError("r", "h:1", time.Second), want: http.StatusGatewayTimeout},
		{name: "downstream", err: util.NewDownstreamError("r", "h:1", errors.New("refused")), want: http.StatusBadGateway},
		{name: "rate limited", err: util.NewRateLimitError("r", 5), want: http.StatusTooManyRequests},
		{
			name: "canceled",
			err:  fmt.Errorf("%w: %w", util.ErrRequestCanceled, context.Canceled),
			want: StatusClientClosedRequest,
		},
		{name: "inconsistency", err: util.NewInconsistencyError("r", "id"), want: http.StatusInternalServerError},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestHandler_WritesDispatchResult(t *testing.T) {
	t.Parallel()

	var got *dispatch.Request
	h := NewHandler(dispatcherFunc(func(_ context.Context, req *dispatch.Request) (*dispatch.Result, error) {
		got = req
		return &dispatch.Result{
			Route:        "users",
			Status:       http.StatusCreated,
			Header:       http.Header{"Content-Type": []string{"application/json"}},
			Body:         []byte(`{"id":1}`),
			RequestIDKey: "X-Correlation-ID",
		}, nil
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/users/a%2Fb?x=1", strings.NewReader(`{"name":"n"}`))
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "application/json")
	req = req.WithContext(observability.ContextWithRequestID(req.Context(), "rid-1"))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id":1}`, rec.Body.String())
	assert.Equal(t, "rid-1", rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "8", rec.Header().Get("Content-Length"))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/users/a%2Fb", got.Path)
	assert.Equal(t, "x=1", got.RawQuery)
	assert.Equal(t, `{"name":"n"}`, string(got.Body))
	assert.Equal(t, "rid-1", got.RequestID)
	assert.Empty(t, got.Header.Get("Connection"))
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.NotEmpty(t, got.Header.Get("X-Forwarded-For"))
}

func TestHandler_MapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "no route",
			err:     util.NewRouteNotFoundError("GET", "/nope"),
			status:  http.StatusNotFound,
			message: util.NewRouteNotFoundError("GET", "/nope").Error(),
		},
		{
			name:    "internal error hides details",
			err:     errors.New("secret detail"),
			status:  http.StatusInternalServerError,
			message: "internal error",
		},
		{
			name:    "rate limited",
			err:     util.NewRateLimitError("users", 5),
			status:  http.StatusTooManyRequests,
			message: util.NewRateLimitError("users", 5).Error(),
		},
		{
			name:    "downstream error hides endpoint",
			err:     util.NewDownstreamError("users", "10.0.0.7:8080", errors.New("dial tcp 10.0.0.7:8080: connection refused")),
			status:  http.StatusBadGateway,
			message: "downstream service unavailable",
		},
		{
			name:    "no endpoint hides service",
			err:     util.NewEndpointError("users-svc", errors.New("consul: 10.0.0.2:8500 unreachable")),
			status:  http.StatusBadGateway,
			message: "downstream service unavailable",
		},
		{
			name:    "circuit open hides endpoint",
			err:     util.NewCircuitOpenError("users", "10.0.0.7:8080", "open"),
			status:  http.StatusServiceUnavailable,
			message: "downstream circuit open",
		},
		{
			name:    "timeout hides endpoint",
			err:     util.NewDownstreamTimeoutError("users", "10.0.0.7:8080", time.Second),
			status:  http.StatusGatewayTimeout,
			message: "downstream timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHandler(dispatcherFunc(func(context.Context, *dispatch.Request) (*dispatch.Result, error) {
				return nil, tt.err
			}))
			req := httptest.NewRequest(http.MethodGet, "/nope", nil)
			req = req.WithContext(observability.ContextWithRequestID(req.Context(), "rid-2"))
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.message, body.Message)
			assert.NotContains(t, rec.Body.String(), "10.0.0.")
			assert.Equal(t, "rid-2", body.RequestID)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	t.Parallel()

	called := false
	h := NewHandler(dispatcherFunc(func(context.Context, *dispatch.Request) (*dispatch.Result, error) {
		called = true
		return nil, nil
	}), WithMaxBodyBytes(4))

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, called)
}

func TestHandler_HeadOmitsBody(t *testing.T) {
	t.Parallel()

	h := NewHandler(dispatcherFunc(func(context.Context, *dispatch.Request) (*dispatch.Result, error) {
		return &dispatch.Result{Status: http.StatusOK, Header: http.Header{}, Body: []byte("ignored")}, nil
	}))

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp, err := http.Head(srv.URL + "/ping")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

func TestHandler_ProvidesRequestInfo(t *testing.T) {
	t.Parallel()

	h := NewHandler(dispatcherFunc(func(ctx context.Context, _ *dispatch.Request) (*dispatch.Result, error) {
		info := util.RequestInfoFromContext(ctx)
		require.NotNil(t, info)
		info.Route = "seen"
		return &dispatch.Result{Status: http.StatusNoContent, Header: http.Header{}}, nil
	}))

	info := &util.RequestInfo{}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(util.ContextWithRequestInfo(req.Context(), info))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "seen", info.Route)
}
