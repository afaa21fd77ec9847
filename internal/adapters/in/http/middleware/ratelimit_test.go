package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"

	"github.com/prtl/prtl/internal/adapters/out/ratelimit"
)

type fixedLimiter struct {
	allow bool
	keys  []string
}

func (f *fixedLimiter) Allow(_ context.Context, key string) bool {
	f.keys = append(f.keys, key)
	return f.allow
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(nil, nil, nil, nil, zerowrap.Default())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_GlobalRejects(t *testing.T) {
	global := &fixedLimiter{allow: false}
	perIP := &fixedLimiter{allow: true}
	h := RateLimit(global, perIP, nil, nil, zerowrap.Default())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too Many Requests", rec.Body.String())
	assert.Equal(t, []string{"global"}, global.keys)
	assert.Empty(t, perIP.keys)
}

func TestRateLimit_PerIPKeyUsesClientIP(t *testing.T) {
	perIP := &fixedLimiter{allow: true}
	trusted := ParseTrustedProxies([]string{"10.0.0.1"})
	h := RateLimit(nil, perIP, trusted, nil, zerowrap.Default())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.4")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ip:198.51.100.4"}, perIP.keys)
}

func TestRateLimit_MemoryBurst(t *testing.T) {
	perIP := ratelimit.NewMemoryStore(1, 2, time.Minute, zerowrap.Default())
	h := RateLimit(nil, perIP, nil, nil, zerowrap.Default())(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
