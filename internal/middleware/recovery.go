package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/util"
)

type panicResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Recovery turns a handler panic into a 500 response in the gateway's
// error format. http.ErrAbortHandler is re-raised so net/http can
// abort the connection.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				ctx := r.Context()
				requestID := observability.RequestIDFromContext(ctx)
				fields := []observability.Field{
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.Any("panic", rec),
					observability.String("stack", string(debug.Stack())),
				}
				if requestID != "" {
					fields = append(fields, observability.String("request_id", requestID))
				}
				if info := util.RequestInfoFromContext(ctx); info != nil && info.Route != "" {
					fields = append(fields, observability.String("route", info.Route))
				}
				logger.Error("panic recovered", fields...)

				GetMiddlewareMetrics().panicsRecovered.Inc()

				body, _ := json.Marshal(panicResponse{
					Error:     "internal server error",
					Message:   "internal error",
					RequestID: requestID,
				})
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write(body)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
