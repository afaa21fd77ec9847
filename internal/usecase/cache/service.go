// Package cache implements the gateway response cache on top of a
// key-value store. Store failures never reach callers.
package cache

import (
	"context"
	"time"

	"github.com/bnema/zerowrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
)

// Ensure Service implements out.ResponseCache.
var _ out.ResponseCache = (*Service)(nil)

// Service is the response cache.
type Service struct {
	store   out.CacheStore
	codec   out.EntryCodec
	metrics *telemetry.Metrics
}

// NewService creates a response cache over store.
func NewService(store out.CacheStore, codec out.EntryCodec) *Service {
	return &Service{store: store, codec: codec}
}

// SetMetrics sets the telemetry metrics for the cache.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Get returns the cached response under key. Store and decode failures are
// logged and reported as a miss.
func (s *Service) Get(ctx context.Context, key string) (*domain.CachedResponse, bool) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "CacheGet",
		"cache_key":           key,
	})
	log := zerowrap.FromCtx(ctx)

	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("cache read failed, treating as miss")
		s.count(ctx, "degraded")
		return nil, false
	}
	if !found {
		s.count(ctx, "miss")
		return nil, false
	}

	entry, err := s.codec.DecodeEntry(raw)
	if err != nil {
		log.Warn().Err(err).Int(zerowrap.FieldSize, len(raw)).Msg("cache entry undecodable, treating as miss")
		s.count(ctx, "degraded")
		return nil, false
	}

	log.Debug().Int(zerowrap.FieldStatus, int(entry.Status)).Msg("cache hit")
	s.count(ctx, "hit")
	return &entry, true
}

// Set stores resp under key for ttl. Failures are logged and swallowed.
func (s *Service) Set(ctx context.Context, key string, resp domain.CachedResponse, ttl time.Duration) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "CacheSet",
		"cache_key":           key,
	})
	log := zerowrap.FromCtx(ctx)

	raw, err := s.codec.EncodeEntry(resp)
	if err != nil {
		log.Warn().Err(err).Msg("cache entry encode failed")
		s.writeFailed(ctx)
		return
	}

	if err := s.store.SetEx(ctx, key, raw, ttl); err != nil {
		log.Warn().Err(err).Msg("cache write failed")
		s.writeFailed(ctx)
		return
	}

	log.Debug().Dur("ttl", ttl).Int(zerowrap.FieldSize, len(raw)).Msg("response cached")
}

func (s *Service) count(ctx context.Context, result string) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	if result == "hit" {
		s.metrics.CacheHits.Add(ctx, 1, attrs)
		return
	}
	s.metrics.CacheMisses.Add(ctx, 1, attrs)
}

func (s *Service) writeFailed(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.CacheWriteErrors.Add(ctx, 1)
	}
}
