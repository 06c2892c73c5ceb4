// Package util provides the error taxonomy and request-scoped helpers
// shared by the gateway packages.
//
// # Error Conventions
//
//   - Sentinel errors (errors.New) name the per-request outcomes that
//     callers check with errors.Is(). Example: ErrNoRouteMatched.
//   - Structured error types carry the route, endpoint or service the
//     failure belongs to. Each type implements Error(), Unwrap() (if
//     wrapping) and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping.
package util

import (
	"errors"
	"fmt"
	"time"
)

// Per-request outcomes and configuration failures.
var (
	ErrNoRouteMatched             = errors.New("no route matched")
	ErrNoAvailableEndpoint        = errors.New("no available endpoint")
	ErrCircuitOpen                = errors.New("circuit breaker open")
	ErrDownstreamTimeout          = errors.New("downstream timeout")
	ErrDownstreamError            = errors.New("downstream error")
	ErrConfigurationInconsistency = errors.New("configuration inconsistency")
	ErrRateLimited                = errors.New("rate limit exceeded")
	ErrRequestCanceled            = errors.New("request canceled")
	ErrConfigInvalid              = errors.New("invalid configuration")
)

// RouteNotFoundError is returned when no route fits the request.
type RouteNotFoundError struct {
	Method string
	Path   string
}

// Error implements the error interface.
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route matched %s %s", e.Method, e.Path)
}

// Is checks if the error matches the target.
func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrNoRouteMatched {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(method, path string) *RouteNotFoundError {
	return &RouteNotFoundError{Method: method, Path: path}
}

// EndpointError is returned when a service resolves to nothing usable.
type EndpointError struct {
	Service string
	Cause   error
}

// Error implements the error interface.
func (e *EndpointError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("no available endpoint for service %q: %v", e.Service, e.Cause)
	}
	return fmt.Sprintf("no available endpoint for service %q", e.Service)
}

// Unwrap returns the underlying error.
func (e *EndpointError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *EndpointError) Is(target error) bool {
	if target == ErrNoAvailableEndpoint {
		return true
	}
	_, ok := target.(*EndpointError)
	return ok
}

// NewEndpointError creates a new EndpointError.
func NewEndpointError(service string, cause error) *EndpointError {
	return &EndpointError{Service: service, Cause: cause}
}

// CircuitOpenError is returned when the governor rejects a call
// without contacting the downstream.
type CircuitOpenError struct {
	Route    string
	Endpoint string
	State    string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit for route %s endpoint %s is %s", e.Route, e.Endpoint, e.State)
}

// Is checks if the error matches the target.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(route, endpoint, state string) *CircuitOpenError {
	return &CircuitOpenError{Route: route, Endpoint: endpoint, State: state}
}

// DownstreamError describes a failed downstream call. TimedOut
// distinguishes a governor deadline from a transport failure.
type DownstreamError struct {
	Route    string
	Endpoint string
	TimedOut bool
	Timeout  time.Duration
	Cause    error
}

// Error implements the error interface.
func (e *DownstreamError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("downstream %s for route %s timed out after %v", e.Endpoint, e.Route, e.Timeout)
	}
	if e.Cause != nil {
		return fmt.Sprintf("downstream %s for route %s failed: %v", e.Endpoint, e.Route, e.Cause)
	}
	return fmt.Sprintf("downstream %s for route %s failed", e.Endpoint, e.Route)
}

// Unwrap returns the underlying error.
func (e *DownstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *DownstreamError) Is(target error) bool {
	switch target {
	case ErrDownstreamTimeout:
		return e.TimedOut
	case ErrDownstreamError:
		return !e.TimedOut
	}
	_, ok := target.(*DownstreamError)
	return ok
}

// NewDownstreamError creates a DownstreamError for a transport failure.
func NewDownstreamError(route, endpoint string, cause error) *DownstreamError {
	return &DownstreamError{Route: route, Endpoint: endpoint, Cause: cause}
}

// NewDownstreamTimeoutError creates a DownstreamError for an elapsed deadline.
func NewDownstreamTimeoutError(route, endpoint string, timeout time.Duration) *DownstreamError {
	return &DownstreamError{Route: route, Endpoint: endpoint, TimedOut: true, Timeout: timeout}
}

// InconsistencyError reports a route whose downstream template uses a
// placeholder the upstream template never captures.
type InconsistencyError struct {
	Route       string
	Placeholder string
}

// Error implements the error interface.
func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("route %s: downstream placeholder {%s} is not captured upstream", e.Route, e.Placeholder)
}

// Is checks if the error matches the target.
func (e *InconsistencyError) Is(target error) bool {
	if target == ErrConfigurationInconsistency {
		return true
	}
	_, ok := target.(*InconsistencyError)
	return ok
}

// NewInconsistencyError creates a new InconsistencyError.
func NewInconsistencyError(route, placeholder string) *InconsistencyError {
	return &InconsistencyError{Route: route, Placeholder: placeholder}
}

// RateLimitError is returned when a route's limiter rejects a request.
type RateLimitError struct {
	Route string
	Limit float64
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for route %s (limit: %g/s)", e.Route, e.Limit)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(route string, limit float64) *RateLimitError {
	return &RateLimitError{Route: route, Limit: limit}
}

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// ValidationError aggregates field-level validation failures.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s (fields: %v)", e.Message, e.Fields)
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string]string)}
}

// AddField adds a field error.
func (e *ValidationError) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// HasErrors reports whether any field error was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// IsClientFault returns true for outcomes caused by the request itself.
func IsClientFault(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNoRouteMatched) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrRequestCanceled)
}
