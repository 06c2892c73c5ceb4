package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

// RequestIDHeader is the default header carrying the request id.
const RequestIDHeader = "X-Request-ID"

// RequestID returns a middleware that takes the request id from header,
// or generates one, stores it in the request context and echoes it on
// the response. An empty header means RequestIDHeader.
func RequestID(header string) func(http.Handler) http.Handler {
	return RequestIDWithGenerator(header, func() string { return uuid.New().String() })
}

// RequestIDWithGenerator is RequestID with a custom id generator.
func RequestIDWithGenerator(header string, generator func() string) func(http.Handler) http.Handler {
	if header == "" {
		header = RequestIDHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(header)
			if requestID == "" {
				requestID = generator()
				r.Header.Set(header, requestID)
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)

			w.Header().Set(header, requestID)

			next.ServeHTTP(w, r)
		})
	}
}
