package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prtl/prtl/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := New(context.Background(), Config{URL: "redis://" + mr.Addr()}, zerowrap.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestStore_SetGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "proxy:svc:a", []byte("value"), time.Minute))

	got, found, err := store.Get(ctx, "proxy:svc:a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), got)
}

func TestStore_Get_Miss(t *testing.T) {
	store, _ := newTestStore(t)

	got, found, err := store.Get(context.Background(), "proxy:svc:missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestStore_Expiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "proxy:svc:a", []byte("value"), time.Minute))

	ttl, err := store.TTL(ctx, "proxy:svc:a")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(61 * time.Second)

	_, found, err := store.Get(ctx, "proxy:svc:a")
	require.NoError(t, err)
	assert.False(t, found)

	ttl, err = store.TTL(ctx, "proxy:svc:a")
	require.NoError(t, err)
	assert.Negative(t, ttl)
}

func TestStore_TTL_Persistent(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set("proxy:svc:forever", "x"))

	ttl, err := store.TTL(context.Background(), "proxy:svc:forever")
	require.NoError(t, err)
	assert.Negative(t, ttl)
}

func TestStore_ScanKeys(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"proxy:a:1", "proxy:a:2", "proxy:b:1"} {
		require.NoError(t, mr.Set(k, "x"))
	}
	require.NoError(t, mr.Set("session:1", "x"))

	keys, err := store.ScanKeys(ctx, "proxy:", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"proxy:a:1", "proxy:a:2", "proxy:b:1"}, keys)

	keys, err = store.ScanKeys(ctx, "proxy:", 2)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestStore_ServerDown(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, _, err := store.Get(context.Background(), "proxy:svc:a")
	assert.ErrorIs(t, err, domain.ErrCacheStore)

	err = store.SetEx(context.Background(), "proxy:svc:a", []byte("v"), time.Minute)
	assert.ErrorIs(t, err, domain.ErrCacheStore)
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "redis://127.0.0.1:1", DialTimeout: 100 * time.Millisecond}, zerowrap.Default())
	assert.ErrorIs(t, err, domain.ErrCacheStore)
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "ftp://nope"}, zerowrap.Default())
	assert.ErrorIs(t, err, domain.ErrCacheStore)
}

func TestStore_Ping(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	assert.NotNil(t, store.Client())

	mr.Close()
	assert.ErrorIs(t, store.Ping(ctx), domain.ErrCacheStore)
}
