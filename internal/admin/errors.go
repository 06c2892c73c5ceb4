package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vyrodovalexey/routegw/internal/util"
)

// ErrorCode is a machine readable error kind.
type ErrorCode string

const (
	// ErrCodeInvalidRequest indicates malformed request data.
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	// ErrCodeValidationFailed indicates the configuration was rejected.
	ErrCodeValidationFailed ErrorCode = "validation_failed"
	// ErrCodeNotFound indicates the requested resource does not exist.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeInternalError indicates an internal failure.
	ErrCodeInternalError ErrorCode = "internal_error"
)

// APIError is a structured error body.
type APIError struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorResponse wraps an APIError.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message}})
}

// writeConfigError reports a rejected configuration. Field-level
// validation problems are listed individually.
func writeConfigError(w http.ResponseWriter, err error) {
	apiErr := APIError{Code: ErrCodeValidationFailed, Message: err.Error()}

	var verr *util.ValidationError
	if errors.As(err, &verr) {
		apiErr.Message = verr.Message
		apiErr.Fields = verr.Fields
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: apiErr})
}
