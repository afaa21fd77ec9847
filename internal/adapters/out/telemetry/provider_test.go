package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, shutdown, err := NewProvider(context.Background(), Config{}, "prtl", "test")
	require.NoError(t, err)
	defer shutdown(context.Background())

	assert.Nil(t, p.MeterProvider)
	assert.Nil(t, p.Registry)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewProvider_PrometheusExposesInstruments(t *testing.T) {
	ctx := context.Background()
	p, shutdown, err := NewProvider(ctx, Config{Enabled: true, Prometheus: true}, "prtl", "test")
	require.NoError(t, err)
	defer shutdown(ctx)
	require.NotNil(t, p.Registry)

	m, err := NewMetrics()
	require.NoError(t, err)
	m.CacheHits.Add(ctx, 3)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prtl_cache_hits")
}

func TestParseEndpoint(t *testing.T) {
	ep, err := parseEndpoint(Config{Endpoint: "http://collector:4318/otel/", AuthToken: "dXNlcjpwYXNz"})
	require.NoError(t, err)

	assert.Equal(t, "collector:4318", ep.host)
	assert.Equal(t, "/otel", ep.basePath)
	assert.True(t, ep.insecure)
	assert.Equal(t, "Basic dXNlcjpwYXNz", ep.headers["Authorization"])

	_, err = parseEndpoint(Config{Endpoint: "not a url"})
	assert.Error(t, err)
}
