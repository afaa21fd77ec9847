package ratelimit

import (
	"fmt"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/redis/go-redis/v9"

	"github.com/prtl/prtl/internal/boundaries/out"
)

// Config holds the ingress rate limit settings.
type Config struct {
	Enabled     bool          `mapstructure:"enabled"`
	Backend     string        `mapstructure:"backend"`
	GlobalRPS   float64       `mapstructure:"global_rps"`
	GlobalBurst int           `mapstructure:"global_burst"`
	PerIPRPS    float64       `mapstructure:"per_ip_rps"`
	PerIPBurst  int           `mapstructure:"per_ip_burst"`
	IdleTTL     time.Duration `mapstructure:"idle_ttl"`
}

// NewStore creates a RateLimiter based on the configured backend. The redis
// backend requires client.
func NewStore(backend string, rps float64, burst int, idleTTL time.Duration, client redis.UniversalClient, log zerowrap.Logger) (out.RateLimiter, error) {
	switch backend {
	case "memory", "":
		return NewMemoryStore(rps, burst, idleTTL, log), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis rate limit backend requires a redis cache backend")
		}
		return NewRedisStore(client, rps, burst, log), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s", backend)
	}
}
