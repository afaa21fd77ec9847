package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGet(t *testing.T) {
	s := New(time.Minute)
	ctx := context.Background()

	value := []byte("value")
	require.NoError(t, s.SetEx(ctx, "proxy:svc:a", value, time.Minute))
	value[0] = 'X'

	got, found, err := s.Get(ctx, "proxy:svc:a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), got)
	assert.Equal(t, 1, s.Len())
}

func TestStore_Expiry(t *testing.T) {
	s := New(time.Minute)
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "proxy:svc:a", []byte("v"), 30*time.Millisecond))

	ttl, err := s.TTL(ctx, "proxy:svc:a")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 30*time.Millisecond)

	time.Sleep(60 * time.Millisecond)

	_, found, err := s.Get(ctx, "proxy:svc:a")
	require.NoError(t, err)
	assert.False(t, found)

	ttl, err = s.TTL(ctx, "proxy:svc:a")
	require.NoError(t, err)
	assert.Negative(t, ttl)

	keys, err := s.ScanKeys(ctx, "proxy:", 0)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_TTL_Missing(t *testing.T) {
	ttl, err := New(time.Minute).TTL(context.Background(), "nope")
	require.NoError(t, err)
	assert.Negative(t, ttl)
}

func TestStore_ScanKeys(t *testing.T) {
	s := New(time.Minute)
	ctx := context.Background()

	for _, k := range []string{"proxy:b:1", "proxy:a:1", "proxy:a:2", "other:1"} {
		require.NoError(t, s.SetEx(ctx, k, []byte("x"), time.Minute))
	}

	keys, err := s.ScanKeys(ctx, "proxy:", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"proxy:a:1", "proxy:a:2", "proxy:b:1"}, keys)

	keys, err = s.ScanKeys(ctx, "proxy:", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"proxy:a:1", "proxy:a:2"}, keys)
}
