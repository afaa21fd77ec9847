// Package ratelimit provides rate limiter implementations.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/prtl/prtl/internal/boundaries/out"
)

// Ensure MemoryStore implements out.RateLimiter.
var _ out.RateLimiter = (*MemoryStore)(nil)

const defaultIdleTTL = 10 * time.Minute

// MemoryStore is a token-bucket limiter per key. Limiters for keys that stay
// idle longer than the idle TTL are evicted.
type MemoryStore struct {
	limiters *gocache.Cache
	mu       sync.Mutex
	rps      float64
	burst    int
	log      zerowrap.Logger
}

// NewMemoryStore creates a new in-memory rate limiter store.
func NewMemoryStore(rps float64, burst int, idleTTL time.Duration, log zerowrap.Logger) *MemoryStore {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &MemoryStore{
		limiters: gocache.New(idleTTL, idleTTL/2),
		rps:      rps,
		burst:    burst,
		log:      log,
	}
}

// Allow reports whether one request for key fits within the limit.
func (s *MemoryStore) Allow(_ context.Context, key string) bool {
	return s.getLimiter(key).Allow()
}

// getLimiter returns the limiter for key, creating one on first use. Every
// access pushes the idle deadline back.
func (s *MemoryStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.limiters.Get(key); ok {
		limiter := v.(*rate.Limiter)
		s.limiters.SetDefault(key, limiter)
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(s.rps), s.burst)
	s.limiters.SetDefault(key, limiter)
	return limiter
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	return s.limiters.ItemCount()
}
