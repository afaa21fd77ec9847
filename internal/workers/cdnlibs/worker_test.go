package cdnlibs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prtl/prtl/internal/domain"
)

// rewriteTransport sends every request to the test server, keeping path and query.
type rewriteTransport struct {
	target *url.URL
	next   http.RoundTripper
}

func (rt rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	return rt.next.RoundTrip(r)
}

func newTestWorker(t *testing.T, handler http.HandlerFunc) *Worker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: rewriteTransport{target: u, next: http.DefaultTransport}}
	return New(client)
}

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

func get(uri string) *domain.ProxyRequest {
	return &domain.ProxyRequest{Method: http.MethodGet, URI: uri}
}

func TestDescriptor(t *testing.T) {
	d := New(nil).Descriptor()

	assert.Equal(t, "cdnlibs", d.ServiceName)
	assert.Equal(t, []string{"api.cdnlibs.org"}, d.BaseDomains)
	assert.Equal(t, domain.HashURL|domain.HashQuery, d.HashPolicy)
	assert.Equal(t, time.Hour, d.CacheTTL)
	assert.NoError(t, d.Validate())
}

func TestHandle_ForbidsOtherPaths(t *testing.T) {
	var hits atomic.Int32
	w := newTestWorker(t, func(http.ResponseWriter, *http.Request) { hits.Add(1) })

	resp, err := w.Handle(testContext(), get("https://api.cdnlibs.org/api/manga/1"))
	require.NoError(t, err)

	assert.Equal(t, uint16(http.StatusForbidden), resp.Status)
	assert.Empty(t, resp.Body)
	assert.Zero(t, hits.Load())
}

func TestHandle_StripsMeta(t *testing.T) {
	w := newTestWorker(t, func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/anime/42", r.URL.Path)
		assert.Equal(t, "fields=title", r.URL.RawQuery)
		assert.Equal(t, "yes", r.Header.Get("X-Forwarded"))
		rw.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = rw.Write([]byte(`{"data":{"title":"Frieren"},"meta":{"page":1}}`))
	})

	req := get("https://api.cdnlibs.org/api/anime/42?fields=title")
	req.Headers = []domain.Header{{Name: "x-forwarded", Value: "yes"}}
	resp, err := w.Handle(testContext(), req)
	require.NoError(t, err)

	assert.Equal(t, uint16(http.StatusOK), resp.Status)
	assert.JSONEq(t, `{"data":{"title":"Frieren"}}`, string(resp.Body))
	_, hasLength := domain.HeaderValue(resp.Headers, "content-length")
	assert.False(t, hasLength)
	ct, _ := domain.HeaderValue(resp.Headers, "content-type")
	assert.Equal(t, "application/json; charset=utf-8", ct)
}

func TestHandle_GzipRoundTrip(t *testing.T) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	_, _ = zw.Write([]byte(`{"data":[1,2],"meta":{"total":2}}`))
	require.NoError(t, zw.Close())

	w := newTestWorker(t, func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Content-Encoding", "gzip")
		_, _ = rw.Write(compressed.Bytes())
	})

	req := get("https://api.cdnlibs.org/api/anime/list")
	req.Headers = []domain.Header{{Name: "accept-encoding", Value: "gzip"}}
	resp, err := w.Handle(testContext(), req)
	require.NoError(t, err)

	zr, err := gzip.NewReader(bytes.NewReader(resp.Body))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[1,2]}`, string(plain))
}

func TestHandle_InvalidJSONReturnsOriginal(t *testing.T) {
	w := newTestWorker(t, func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write([]byte(`{"meta": broken`))
	})

	resp, err := w.Handle(testContext(), get("https://api.cdnlibs.org/api/anime/1"))
	require.NoError(t, err)
	assert.Equal(t, `{"meta": broken`, string(resp.Body))
}

func TestHandle_NonJSONUntouched(t *testing.T) {
	w := newTestWorker(t, func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		_, _ = rw.Write([]byte(`{"meta":1}`))
	})

	resp, err := w.Handle(testContext(), get("https://api.cdnlibs.org/api/anime/1"))
	require.NoError(t, err)
	assert.Equal(t, `{"meta":1}`, string(resp.Body))
}

func TestHandle_ThrottlesWhenQuotaExhausted(t *testing.T) {
	var hits atomic.Int32
	w := newTestWorker(t, func(rw http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		rw.Header().Set("X-RateLimit-Limit", "60")
		rw.Header().Set("X-RateLimit-Remaining", "0")
		rw.WriteHeader(http.StatusOK)
	})

	first, err := w.Handle(testContext(), get("https://api.cdnlibs.org/api/anime/1"))
	require.NoError(t, err)
	assert.Equal(t, uint16(http.StatusOK), first.Status)

	second, err := w.Handle(testContext(), get("https://api.cdnlibs.org/api/anime/2"))
	require.NoError(t, err)

	assert.Equal(t, uint16(http.StatusTooManyRequests), second.Status)
	assert.Equal(t, "Rate limit exceeded", string(second.Body))
	retry, _ := domain.HeaderValue(second.Headers, "retry-after")
	assert.Equal(t, "60", retry)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHandle_UpstreamFailure(t *testing.T) {
	w := New(&http.Client{Transport: rewriteTransport{
		target: &url.URL{Scheme: "http", Host: "127.0.0.1:1"},
		next:   http.DefaultTransport,
	}})

	_, err := w.Handle(testContext(), get("https://api.cdnlibs.org/api/anime/1"))
	assert.Error(t, err)
}

func TestHandle_OversizedUpstreamBodyFails(t *testing.T) {
	w := newTestWorker(t, func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/octet-stream")
		_, _ = rw.Write(bytes.Repeat([]byte("x"), maxUpstreamBody+1024))
	})

	resp, err := w.Handle(testContext(), get("https://api.cdnlibs.org/api/anime/big"))
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, errBodyTooLarge)
}

func TestReadLimited(t *testing.T) {
	b, err := readLimited(bytes.NewReader([]byte("12345")), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(b))

	_, err = readLimited(bytes.NewReader([]byte("123456")), 5)
	assert.ErrorIs(t, err, errBodyTooLarge)
}

func TestGunzip_OversizedFails(t *testing.T) {
	compressed, err := gzipBytes(make([]byte, maxUpstreamBody+1))
	require.NoError(t, err)

	_, err = gunzip(compressed)
	assert.ErrorIs(t, err, errBodyTooLarge)
}
