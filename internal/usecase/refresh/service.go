// Package refresh implements the background cache refresh loop. It finds
// cached responses whose TTL dropped below a threshold. Detection only: no
// request is re-issued.
package refresh

import (
	"context"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/usecase/cachekey"
)

const (
	defaultInterval       = 60 * time.Second
	defaultThresholdRatio = 0.8
	defaultMaxPerScan     = 10
	defaultNominalTTL     = time.Hour
)

// Config holds refresh loop settings.
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	ThresholdRatio float64       `mapstructure:"threshold_ratio"`
	MaxPerScan     int           `mapstructure:"max_per_scan"`
	NominalTTL     time.Duration `mapstructure:"nominal_ttl"`
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.ThresholdRatio <= 0 {
		c.ThresholdRatio = defaultThresholdRatio
	}
	if c.MaxPerScan <= 0 {
		c.MaxPerScan = defaultMaxPerScan
	}
	if c.NominalTTL <= 0 {
		c.NominalTTL = defaultNominalTTL
	}
	return c
}

// Threshold is the remaining TTL under which an entry is a candidate.
func (c Config) Threshold() time.Duration {
	c = c.withDefaults()
	return time.Duration(float64(c.NominalTTL) * c.ThresholdRatio)
}

// Candidate is a cache entry close to expiry.
type Candidate struct {
	Key string
	TTL time.Duration
}

// Service scans the cache store on an interval.
type Service struct {
	store     out.CacheStore
	cfg       Config
	newTicker TickerFactory
	metrics   *telemetry.Metrics

	// OnCandidates, when set, receives the candidates of every scan that
	// found at least one.
	OnCandidates func(ctx context.Context, candidates []Candidate)
}

// NewService creates a refresh loop over store.
func NewService(store out.CacheStore, cfg Config) *Service {
	return &Service{
		store:     store,
		cfg:       cfg.withDefaults(),
		newTicker: NewTimeTicker,
	}
}

// SetTicker replaces the ticker factory.
func (s *Service) SetTicker(f TickerFactory) {
	s.newTicker = f
}

// SetMetrics sets the telemetry metrics for the loop.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Run scans immediately, then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "CacheRefresh",
	})
	log := zerowrap.FromCtx(ctx)
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("threshold", s.cfg.Threshold()).
		Int("max_per_scan", s.cfg.MaxPerScan).
		Msg("cache refresh loop started")

	ticker := s.newTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cache refresh loop stopped")
			return nil
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if _, err := s.Scan(ctx); err != nil {
		log := zerowrap.FromCtx(ctx)
		log.Error().Err(err).Msg("cache refresh scan failed")
	}
}

// Scan inspects at most MaxPerScan cached entries and returns those whose
// remaining TTL is positive and below the threshold.
func (s *Service) Scan(ctx context.Context) ([]Candidate, error) {
	log := zerowrap.FromCtx(ctx)

	keys, err := s.store.ScanKeys(ctx, cachekey.Prefix, s.cfg.MaxPerScan)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RefreshScans.Add(ctx, 1)
	}
	if len(keys) == 0 {
		log.Debug().Msg("no cache entries found")
		return nil, nil
	}

	threshold := s.cfg.Threshold()
	var candidates []Candidate
	for _, key := range keys {
		ttl, err := s.store.TTL(ctx, key)
		if err != nil {
			log.Debug().Err(err).Str("cache_key", key).Msg("ttl lookup failed")
			continue
		}
		if ttl > 0 && ttl < threshold {
			log.Debug().Str("cache_key", key).Dur("ttl", ttl).Msg("cache entry has low ttl")
			candidates = append(candidates, Candidate{Key: key, TTL: ttl})
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	log.Info().Int(zerowrap.FieldCount, len(candidates)).Msg("found cache entries to potentially refresh")
	if s.metrics != nil {
		s.metrics.RefreshCandidates.Add(ctx, int64(len(candidates)))
	}
	if s.OnCandidates != nil {
		s.OnCandidates(ctx, candidates)
	}
	return candidates, nil
}
