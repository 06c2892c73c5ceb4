package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TablePublisher reports whether a route table has been published.
type TablePublisher interface {
	Published() bool
}

// RouteTableCheck is unhealthy until the first route table is
// published.
func RouteTableCheck(store TablePublisher) CheckFunc {
	return func(context.Context) Check {
		if !store.Published() {
			return Check{Status: StatusUnhealthy, Message: "no route table published"}
		}
		return Check{Status: StatusHealthy}
	}
}

// RedisCheck pings a Redis dependency. A non-critical dependency that
// fails degrades readiness instead of failing it.
func RedisCheck(client redis.UniversalClient, critical bool) CheckFunc {
	return func(ctx context.Context) Check {
		if err := client.Ping(ctx).Err(); err != nil {
			status := StatusDegraded
			if critical {
				status = StatusUnhealthy
			}
			return Check{Status: status, Message: fmt.Sprintf("redis ping failed: %v", err)}
		}
		return Check{Status: StatusHealthy}
	}
}
