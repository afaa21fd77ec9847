package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prtl/prtl/internal/adapters/out/msgpack"
	"github.com/prtl/prtl/internal/boundaries/out/mocks"
	"github.com/prtl/prtl/internal/domain"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

func sampleEntry() domain.CachedResponse {
	return domain.CachedResponse{
		Status:  200,
		Headers: []domain.Header{{Name: "content-type", Value: "application/json"}},
		Body:    []byte(`{"ok":true}`),
	}
}

func TestService_Get_Hit(t *testing.T) {
	store := new(mocks.MockCacheStore)
	codec := msgpack.NewCodec()
	raw, err := codec.EncodeEntry(sampleEntry())
	require.NoError(t, err)

	store.On("Get", mock.Anything, "proxy:svc:abc").Return(raw, true, nil)

	svc := NewService(store, codec)
	got, ok := svc.Get(testContext(), "proxy:svc:abc")

	require.True(t, ok)
	assert.Equal(t, sampleEntry(), *got)
	store.AssertExpectations(t)
}

func TestService_Get_Miss(t *testing.T) {
	store := new(mocks.MockCacheStore)
	store.On("Get", mock.Anything, "proxy:svc:abc").Return(nil, false, nil)

	svc := NewService(store, msgpack.NewCodec())
	got, ok := svc.Get(testContext(), "proxy:svc:abc")

	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestService_Get_StoreErrorIsMiss(t *testing.T) {
	store := new(mocks.MockCacheStore)
	store.On("Get", mock.Anything, "proxy:svc:abc").Return(nil, false, errors.New("connection refused"))

	svc := NewService(store, msgpack.NewCodec())
	_, ok := svc.Get(testContext(), "proxy:svc:abc")

	assert.False(t, ok)
}

func TestService_Get_CorruptEntryIsMiss(t *testing.T) {
	store := new(mocks.MockCacheStore)
	store.On("Get", mock.Anything, "proxy:svc:abc").Return([]byte("garbage"), true, nil)

	svc := NewService(store, msgpack.NewCodec())
	_, ok := svc.Get(testContext(), "proxy:svc:abc")

	assert.False(t, ok)
}

func TestService_Set_WritesEncodedEntry(t *testing.T) {
	store := new(mocks.MockCacheStore)
	codec := msgpack.NewCodec()
	want, err := codec.EncodeEntry(sampleEntry())
	require.NoError(t, err)

	store.On("SetEx", mock.Anything, "proxy:svc:abc", want, time.Hour).Return(nil)

	svc := NewService(store, codec)
	svc.Set(testContext(), "proxy:svc:abc", sampleEntry(), time.Hour)

	store.AssertExpectations(t)
}

func TestService_Set_SwallowsStoreError(t *testing.T) {
	store := new(mocks.MockCacheStore)
	store.On("SetEx", mock.Anything, "proxy:svc:abc", mock.Anything, time.Minute).Return(errors.New("read-only replica"))

	svc := NewService(store, msgpack.NewCodec())

	assert.NotPanics(t, func() {
		svc.Set(testContext(), "proxy:svc:abc", sampleEntry(), time.Minute)
	})
	store.AssertExpectations(t)
}
