package out

import (
	"context"
	"time"

	"github.com/prtl/prtl/internal/domain"
)

// CacheStore is the external key-value store backing the response cache.
type CacheStore interface {
	// Get returns the raw value; found is false on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// SetEx stores value with an expiry.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// ScanKeys returns at most limit keys starting with prefix.
	ScanKeys(ctx context.Context, prefix string, limit int) ([]string, error)

	// TTL returns the remaining time to live of key. A negative duration means
	// the key is missing or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// ResponseCache defines the contract for the gateway's response cache. It never
// reports errors: failures degrade to misses or dropped writes.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*domain.CachedResponse, bool)
	Set(ctx context.Context, key string, resp domain.CachedResponse, ttl time.Duration)
}
