package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/prtl/prtl/internal/domain"
)

// MockCacheStore is a mock implementation of out.CacheStore
type MockCacheStore struct {
	mock.Mock
}

func (m *MockCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Bool(1), args.Error(2)
}

func (m *MockCacheStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockCacheStore) ScanKeys(ctx context.Context, prefix string, limit int) ([]string, error) {
	args := m.Called(ctx, prefix, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCacheStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(time.Duration), args.Error(1)
}

// MockResponseCache is a mock implementation of out.ResponseCache
type MockResponseCache struct {
	mock.Mock
}

func (m *MockResponseCache) Get(ctx context.Context, key string) (*domain.CachedResponse, bool) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*domain.CachedResponse), args.Bool(1)
}

func (m *MockResponseCache) Set(ctx context.Context, key string, resp domain.CachedResponse, ttl time.Duration) {
	m.Called(ctx, key, resp, ttl)
}
