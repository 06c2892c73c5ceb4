package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		header   string
		incoming string
		want     string
	}{
		{name: "generates id", header: "", incoming: "", want: "generated"},
		{name: "keeps incoming id", header: "", incoming: "abc-123", want: "abc-123"},
		{name: "custom header", header: "X-Correlation-ID", incoming: "corr-1", want: "corr-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			header := tt.header
			if header == "" {
				header = RequestIDHeader
			}

			var fromContext, fromHeader string
			mw := RequestIDWithGenerator(tt.header, func() string { return "generated" })
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fromContext = observability.RequestIDFromContext(r.Context())
				fromHeader = r.Header.Get(header)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.incoming != "" {
				req.Header.Set(header, tt.incoming)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Header().Get(header))
			assert.Equal(t, tt.want, fromContext)
			assert.Equal(t, tt.want, fromHeader)
		})
	}
}

func TestRequestID_GeneratesUUID(t *testing.T) {
	t.Parallel()

	var id string
	handler := RequestID("")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		id = observability.RequestIDFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, id, 36)
}
