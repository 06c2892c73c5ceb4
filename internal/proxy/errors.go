package proxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vyrodovalexey/routegw/internal/util"
)

// StatusClientClosedRequest is returned when the client went away
// before the response was ready.
const StatusClientClosedRequest = 499

// errorResponse is the body of every error the gateway produces itself.
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// StatusCode maps a dispatch error to the HTTP status returned to the
// client.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, util.ErrNoRouteMatched):
		return http.StatusNotFound
	case errors.Is(err, util.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, util.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrDownstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, util.ErrRequestCanceled):
		return StatusClientClosedRequest
	case errors.Is(err, util.ErrNoAvailableEndpoint),
		errors.Is(err, util.ErrDownstreamError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not found"
	case http.StatusTooManyRequests:
		return "too many requests"
	case http.StatusServiceUnavailable:
		return "service unavailable"
	case http.StatusGatewayTimeout:
		return "gateway timeout"
	case http.StatusBadGateway:
		return "bad gateway"
	case http.StatusRequestEntityTooLarge:
		return "request entity too large"
	case StatusClientClosedRequest:
		return "client closed request"
	default:
		return "internal server error"
	}
}

// clientMessage keeps downstream addresses and causes out of the body.
// Only route misses and rate limits carry their own message; the rest
// are fixed text and the detail goes to the log.
func clientMessage(status int, err error) string {
	switch status {
	case http.StatusNotFound, http.StatusTooManyRequests:
		return err.Error()
	case http.StatusBadGateway:
		return "downstream service unavailable"
	case http.StatusServiceUnavailable:
		return "downstream circuit open"
	case http.StatusGatewayTimeout:
		return "downstream timed out"
	case StatusClientClosedRequest:
		return "request canceled"
	default:
		return "internal error"
	}
}

func writeError(w http.ResponseWriter, status int, message, requestID string) {
	body, _ := json.Marshal(errorResponse{
		Error:     errorKind(status),
		Message:   message,
		RequestID: requestID,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
