package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prtl/prtl/internal/adapters/out/memstore"
	"github.com/prtl/prtl/internal/boundaries/out/mocks"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

type fakeTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.once.Do(func() { close(f.stopped) }) }

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 0.8, cfg.ThresholdRatio)
	assert.Equal(t, 10, cfg.MaxPerScan)
	assert.Equal(t, time.Hour, cfg.NominalTTL)
	assert.Equal(t, 2880*time.Second, cfg.Threshold())
}

func TestScan_FlagsLowTTL(t *testing.T) {
	ctx := testContext()
	store := memstore.New(time.Minute)
	require.NoError(t, store.SetEx(ctx, "proxy:a:1", []byte("x"), time.Hour))
	require.NoError(t, store.SetEx(ctx, "proxy:a:2", []byte("x"), 10*time.Minute))
	require.NoError(t, store.SetEx(ctx, "other:3", []byte("x"), time.Minute))

	svc := NewService(store, Config{})
	got, err := svc.Scan(ctx)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "proxy:a:2", got[0].Key)
	assert.InDelta(t, (10 * time.Minute).Seconds(), got[0].TTL.Seconds(), 5)
}

func TestScan_BoundedByMaxPerScan(t *testing.T) {
	ctx := testContext()
	store := new(mocks.MockCacheStore)
	store.On("ScanKeys", mock.Anything, "proxy:", 2).Return([]string{"proxy:a:1", "proxy:a:2"}, nil)
	store.On("TTL", mock.Anything, "proxy:a:1").Return(time.Minute, nil)
	store.On("TTL", mock.Anything, "proxy:a:2").Return(time.Duration(-1), nil)

	var hooked []Candidate
	svc := NewService(store, Config{MaxPerScan: 2})
	svc.OnCandidates = func(_ context.Context, c []Candidate) { hooked = c }

	got, err := svc.Scan(ctx)
	require.NoError(t, err)

	assert.Equal(t, []Candidate{{Key: "proxy:a:1", TTL: time.Minute}}, got)
	assert.Equal(t, got, hooked)
	store.AssertExpectations(t)
}

func TestScan_StoreError(t *testing.T) {
	store := new(mocks.MockCacheStore)
	store.On("ScanKeys", mock.Anything, "proxy:", 10).Return(nil, errors.New("down"))

	_, err := NewService(store, Config{}).Scan(testContext())
	assert.Error(t, err)
}

func TestScan_TTLErrorSkipsKey(t *testing.T) {
	store := new(mocks.MockCacheStore)
	store.On("ScanKeys", mock.Anything, "proxy:", 10).Return([]string{"proxy:a:1", "proxy:a:2"}, nil)
	store.On("TTL", mock.Anything, "proxy:a:1").Return(time.Duration(0), errors.New("timeout"))
	store.On("TTL", mock.Anything, "proxy:a:2").Return(30*time.Second, nil)

	got, err := NewService(store, Config{}).Scan(testContext())
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{Key: "proxy:a:2", TTL: 30 * time.Second}}, got)
}

func TestRun_ScansOnStartAndEachTick(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	store := new(mocks.MockCacheStore)
	scans := make(chan struct{}, 4)
	store.On("ScanKeys", mock.Anything, "proxy:", 10).
		Run(func(mock.Arguments) { scans <- struct{}{} }).
		Return([]string{}, nil)

	ticker := newFakeTicker()
	var interval time.Duration
	svc := NewService(store, Config{Interval: 5 * time.Second})
	svc.SetTicker(func(d time.Duration) Ticker {
		interval = d
		return ticker
	})

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	<-scans
	ticker.ch <- time.Now()
	<-scans
	ticker.ch <- time.Now()
	<-scans

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 5*time.Second, interval)

	select {
	case <-ticker.stopped:
	default:
		t.Fatal("ticker was not stopped")
	}
}

func TestRun_ScanErrorKeepsLoopRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	store := new(mocks.MockCacheStore)
	scans := make(chan struct{}, 4)
	store.On("ScanKeys", mock.Anything, "proxy:", 10).
		Run(func(mock.Arguments) { scans <- struct{}{} }).
		Return(nil, errors.New("down"))

	ticker := newFakeTicker()
	svc := NewService(store, Config{})
	svc.SetTicker(func(time.Duration) Ticker { return ticker })

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	<-scans
	ticker.ch <- time.Now()
	<-scans

	cancel()
	require.NoError(t, <-done)
}
