package out

import "context"

// RateLimiter throttles ingress traffic per client key.
type RateLimiter interface {
	// Allow reports whether one more request for key may proceed now.
	// Keys are "global" or "ip:<address>".
	Allow(ctx context.Context, key string) bool
}
