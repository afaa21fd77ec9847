// Package telemetry provides OpenTelemetry metrics initialization.
// Instruments are read by a Prometheus exporter served on the admin listener
// and, optionally, pushed to an OTLP/HTTP collector.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Prometheus bool   `mapstructure:"prometheus"` // Expose /metrics on the admin listener
	Endpoint   string `mapstructure:"endpoint"`   // OTLP HTTP endpoint, e.g. "http://localhost:4318"
	AuthToken  string `mapstructure:"auth_token"` // Basic auth token (base64 encoded user:pass)
}

// Provider holds the initialized OTel meter provider.
type Provider struct {
	MeterProvider *metric.MeterProvider
	Registry      *prometheus.Registry
}

// endpointConfig holds parsed endpoint details for exporter setup.
type endpointConfig struct {
	host     string
	basePath string
	insecure bool
	headers  map[string]string
}

// NewProvider creates the meter provider and installs it globally.
// Returns an empty provider if telemetry is disabled.
// The returned shutdown function must be called on application exit.
func NewProvider(ctx context.Context, cfg Config, serviceName, version string) (*Provider, func(context.Context), error) {
	noop := func(context.Context) {}

	if !cfg.Enabled || (!cfg.Prometheus && cfg.Endpoint == "") {
		return &Provider{}, noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, noop, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}
	opts := []metric.Option{metric.WithResource(res)}

	if cfg.Prometheus {
		reg := prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return nil, noop, fmt.Errorf("create prometheus exporter: %w", err)
		}
		p.Registry = reg
		opts = append(opts, metric.WithReader(exp))
	}

	if cfg.Endpoint != "" {
		ep, err := parseEndpoint(cfg)
		if err != nil {
			return nil, noop, err
		}
		reader, err := newOTLPReader(ctx, ep)
		if err != nil {
			return nil, noop, err
		}
		opts = append(opts, metric.WithReader(reader))
	}

	mp := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	p.MeterProvider = mp

	shutdown := func(ctx context.Context) {
		_ = mp.Shutdown(ctx)
	}

	return p, shutdown, nil
}

// Handler serves the Prometheus exposition format, or 404 when the
// Prometheus exporter is disabled.
func (p *Provider) Handler() http.Handler {
	if p == nil || p.Registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

// parseEndpoint extracts host, path, and scheme from the configured endpoint URL.
func parseEndpoint(cfg Config) (*endpointConfig, error) {
	parsedURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("parse endpoint URL: missing host in %q", cfg.Endpoint)
	}

	headers := make(map[string]string)
	if cfg.AuthToken != "" {
		headers["Authorization"] = "Basic " + cfg.AuthToken
	}

	return &endpointConfig{
		host:     parsedURL.Host,
		basePath: strings.TrimSuffix(parsedURL.Path, "/"),
		insecure: parsedURL.Scheme == "http",
		headers:  headers,
	}, nil
}

func newOTLPReader(ctx context.Context, ep *endpointConfig) (metric.Reader, error) {
	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(ep.host),
		otlpmetrichttp.WithHeaders(ep.headers),
	}
	if ep.basePath != "" {
		metricOpts = append(metricOpts, otlpmetrichttp.WithURLPath(ep.basePath+"/v1/metrics"))
	}
	if ep.insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	return metric.NewPeriodicReader(metricExp), nil
}
