package util

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy_Is(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		target  error
		matches bool
	}{
		{"route not found", NewRouteNotFoundError("GET", "/x"), ErrNoRouteMatched, true},
		{"endpoint", NewEndpointError("orders", nil), ErrNoAvailableEndpoint, true},
		{"endpoint is not route", NewEndpointError("orders", nil), ErrNoRouteMatched, false},
		{"circuit open", NewCircuitOpenError("r", "h:1", "open"), ErrCircuitOpen, true},
		{"timeout", NewDownstreamTimeoutError("r", "h:1", time.Second), ErrDownstreamTimeout, true},
		{"timeout is not downstream error", NewDownstreamTimeoutError("r", "h:1", time.Second), ErrDownstreamError, false},
		{"transport", NewDownstreamError("r", "h:1", errors.New("refused")), ErrDownstreamError, true},
		{"transport is not timeout", NewDownstreamError("r", "h:1", errors.New("refused")), ErrDownstreamTimeout, false},
		{"inconsistency", NewInconsistencyError("r", "id"), ErrConfigurationInconsistency, true},
		{"rate limit", NewRateLimitError("r", 5), ErrRateLimited, true},
		{"config", NewConfigError("routes", "bad"), ErrConfigInvalid, true},
		{"validation", NewValidationError("bad"), ErrConfigInvalid, true},
		{"wrapped", fmt.Errorf("dispatch: %w", NewEndpointError("s", nil)), ErrNoAvailableEndpoint, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.matches, errors.Is(tt.err, tt.target))
		})
	}
}

func TestEndpointError_UnwrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("registry down")
	err := NewEndpointError("orders", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "registry down")
}

func TestDownstreamError_As(t *testing.T) {
	t.Parallel()

	var err error = fmt.Errorf("call: %w", NewDownstreamTimeoutError("orders", "10.0.0.1:80", 2*time.Second))

	var de *DownstreamError
	assert.True(t, errors.As(err, &de))
	assert.True(t, de.TimedOut)
	assert.Equal(t, "orders", de.Route)
	assert.Contains(t, de.Error(), "timed out after 2s")
}

func TestValidationError_Fields(t *testing.T) {
	t.Parallel()

	err := NewValidationError("invalid routes")
	assert.False(t, err.HasErrors())

	err.AddField("routes[0].name", "duplicate")
	assert.True(t, err.HasErrors())
	assert.Contains(t, err.Error(), "routes[0].name")
}

func TestIsClientFault(t *testing.T) {
	t.Parallel()

	assert.False(t, IsClientFault(nil))
	assert.True(t, IsClientFault(NewRouteNotFoundError("GET", "/")))
	assert.True(t, IsClientFault(ErrRequestCanceled))
	assert.False(t, IsClientFault(NewCircuitOpenError("r", "e", "open")))
}
