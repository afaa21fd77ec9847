package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/redis/go-redis/v9"

	"github.com/prtl/prtl/internal/boundaries/out"
)

// Ensure RedisStore implements out.RateLimiter.
var _ out.RateLimiter = (*RedisStore)(nil)

const redisKeyPrefix = "ratelimit:"

// RedisStore is a fixed one-second window limiter shared by every gateway
// replica using the same server. It admits rps+burst requests per window.
type RedisStore struct {
	client redis.UniversalClient
	limit  int64
	nowFn  func() time.Time
	log    zerowrap.Logger
}

// NewRedisStore creates a limiter on client.
func NewRedisStore(client redis.UniversalClient, rps float64, burst int, log zerowrap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		limit:  int64(rps) + int64(burst),
		nowFn:  time.Now,
		log:    log,
	}
}

// Allow counts the request against the current window. Store errors admit
// the request.
func (s *RedisStore) Allow(ctx context.Context, key string) bool {
	window := s.nowFn().Unix()
	k := redisKeyPrefix + key + ":" + strconv.FormatInt(window, 10)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "ratelimit").
			Err(err).
			Msg("rate limit store unavailable, admitting request")
		return true
	}

	return incr.Val() <= s.limit
}
