package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vyrodovalexey/routegw/internal/dispatch"
	"github.com/vyrodovalexey/routegw/internal/downstream"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// DefaultMaxBodyBytes bounds the buffered request body.
const DefaultMaxBodyBytes int64 = 10 << 20

// Dispatcher serves one buffered request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error)
}

// Handler is the gateway's catch-all HTTP handler.
type Handler struct {
	dispatcher   Dispatcher
	logger       observability.Logger
	maxBodyBytes int64
	metrics      *Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMaxBodyBytes bounds the request body. Larger bodies are answered
// with 413.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(d Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		dispatcher:   d,
		logger:       observability.NopLogger(),
		maxBodyBytes: DefaultMaxBodyBytes,
		metrics:      GetMetrics(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := observability.RequestIDFromContext(ctx)

	if util.RequestInfoFromContext(ctx) == nil {
		ctx = util.ContextWithRequestInfo(ctx, &util.RequestInfo{})
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, http.StatusRequestEntityTooLarge,
				"request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes", requestID)
			return
		}
		h.fail(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}
	h.metrics.requestBytes.Observe(float64(len(body)))

	header := r.Header.Clone()
	downstream.RemoveHopHeaders(header)
	downstream.SetForwardedHeaders(header, r.RemoteAddr, r.Host, r.TLS != nil)

	res, err := h.dispatcher.Dispatch(ctx, &dispatch.Request{
		Method:    r.Method,
		Path:      r.URL.EscapedPath(),
		RawQuery:  r.URL.RawQuery,
		Header:    header,
		Body:      body,
		RequestID: requestID,
	})
	if err != nil {
		status := StatusCode(err)
		fields := []observability.Field{
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.String("request_id", requestID),
			observability.Error(err),
		}
		switch status {
		case http.StatusInternalServerError, http.StatusBadGateway:
			h.logger.Error("request failed", fields...)
		case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			h.logger.Warn("request failed", fields...)
		}
		h.fail(w, status, clientMessage(status, err), requestID)
		return
	}

	h.write(w, r, res, requestID)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, res *dispatch.Result, requestID string) {
	out := w.Header()
	for name, values := range res.Header {
		out[name] = append([]string(nil), values...)
	}
	if requestID != "" && res.RequestIDKey != "" && out.Get(res.RequestIDKey) == "" {
		out.Set(res.RequestIDKey, requestID)
	}
	out.Del("Content-Length")
	withBody := r.Method != http.MethodHead && bodyAllowed(res.Status)
	if withBody {
		out.Set("Content-Length", strconv.Itoa(len(res.Body)))
	}

	w.WriteHeader(res.Status)
	if !withBody {
		return
	}
	if _, err := w.Write(res.Body); err != nil {
		h.logger.Debug("failed to write response body",
			observability.String("request_id", requestID),
			observability.Error(err),
		)
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, message, requestID string) {
	h.metrics.errorsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	writeError(w, status, message, requestID)
}

func bodyAllowed(status int) bool {
	return status >= http.StatusOK && status != http.StatusNoContent && status != http.StatusNotModified
}
