// Package redisstore implements out.CacheStore on Redis-compatible servers
// (Redis, Dragonfly, KeyDB).
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/redis/go-redis/v9"

	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
)

// Ensure Store implements out.CacheStore.
var _ out.CacheStore = (*Store)(nil)

const scanBatch = 100

// Config holds the Redis connection settings.
type Config struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

// Store is a Redis-backed cache store.
type Store struct {
	client redis.UniversalClient
	log    zerowrap.Logger
}

// New connects to the server at cfg.URL and verifies it with a PING.
func New(ctx context.Context, cfg Config, log zerowrap.Logger) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", domain.ErrCacheStore, err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", domain.ErrCacheStore, opts.Addr, err)
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "redisstore").
		Str("addr", opts.Addr).
		Int("db", opts.DB).
		Msg("connected to cache store")

	return NewWithClient(client, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, log zerowrap.Logger) *Store {
	return &Store{client: client, log: log}
}

// Get returns the value under key; redis.Nil is a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", domain.ErrCacheStore, key, err)
	}
	return val, true, nil
}

// SetEx stores value under key with an expiry.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: setex %s: %v", domain.ErrCacheStore, key, err)
	}
	return nil
}

// ScanKeys walks the keyspace with SCAN MATCH prefix* and stops after limit
// keys. A non-positive limit returns every match.
func (s *Store) ScanKeys(ctx context.Context, prefix string, limit int) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	seen := make(map[string]struct{})

	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: scan %s*: %v", domain.ErrCacheStore, prefix, err)
		}
		for _, k := range batch {
			// SCAN may return a key more than once.
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
			if limit > 0 && len(keys) >= limit {
				return keys, nil
			}
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// TTL returns the remaining lifetime of key; negative when the key is
// missing or persistent.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %v", domain.ErrCacheStore, key, err)
	}
	if ttl < 0 {
		return -1, nil
	}
	return ttl, nil
}

// Client exposes the underlying client for components sharing the
// connection, such as the Redis rate limiter.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Ping checks the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheStore, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
