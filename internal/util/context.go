package util

import (
	"context"
	"time"
)

type ctxKey string

const (
	ctxKeyStartTime   ctxKey = "start_time"
	ctxKeyRequestInfo ctxKey = "request_info"
)

// RequestInfo is filled in by the dispatch layer and read back by the
// outer middleware once the handler returns.
type RequestInfo struct {
	Route    string
	Endpoint string
	CacheHit bool
}

// ContextWithStartTime adds a start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext extracts the start time from context.
func StartTimeFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ctxKeyStartTime).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// ElapsedTime returns the time since the start time stored in the context.
func ElapsedTime(ctx context.Context) time.Duration {
	start := StartTimeFromContext(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// ContextWithRequestInfo attaches a mutable RequestInfo to the context.
func ContextWithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKeyRequestInfo, info)
}

// RequestInfoFromContext returns the RequestInfo attached to the context,
// or nil when there is none.
func RequestInfoFromContext(ctx context.Context) *RequestInfo {
	if v, ok := ctx.Value(ctxKeyRequestInfo).(*RequestInfo); ok {
		return v
	}
	return nil
}
