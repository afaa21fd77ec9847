// Package memstore implements out.CacheStore in process memory for
// single-binary dev mode.
package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/prtl/prtl/internal/boundaries/out"
)

// Ensure Store implements out.CacheStore.
var _ out.CacheStore = (*Store)(nil)

// Store is an expiring in-memory store.
type Store struct {
	items *gocache.Cache
}

// New creates a store that purges expired entries every cleanupInterval.
func New(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &Store{items: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// Get returns the value under key; expired entries are misses.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

// SetEx stores a copy of value under key with an expiry.
func (s *Store) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// ScanKeys returns up to limit unexpired keys with prefix, in lexical order.
func (s *Store) ScanKeys(_ context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	for k := range s.items.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// TTL returns the remaining lifetime of key; negative when missing or
// persistent.
func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	_, exp, ok := s.items.GetWithExpiration(key)
	if !ok || exp.IsZero() {
		return -1, nil
	}
	ttl := time.Until(exp)
	if ttl <= 0 {
		return -1, nil
	}
	return ttl, nil
}

// Len reports the number of stored entries, expired ones included until the
// next cleanup.
func (s *Store) Len() int {
	return s.items.ItemCount()
}
