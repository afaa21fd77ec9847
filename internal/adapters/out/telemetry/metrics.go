package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the mesh OTel metrics instruments.
type Metrics struct {
	// Ingress
	IngressRequests metric.Int64Counter
	IngressRejected metric.Int64Counter
	IngressDuration metric.Float64Histogram

	// Response cache
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
	CacheWriteErrors metric.Int64Counter

	// Bus RPC
	RPCTotal    metric.Int64Counter
	RPCErrors   metric.Int64Counter
	RPCDuration metric.Float64Histogram

	// Discovery
	Registrations       metric.Int64Counter
	DiscoveryBroadcasts metric.Int64Counter
	RegisteredServices  metric.Int64UpDownCounter

	// Refresh
	RefreshScans      metric.Int64Counter
	RefreshCandidates metric.Int64Counter

	// Bus
	BusMessagesDropped metric.Int64Counter
	EnvelopesDropped   metric.Int64Counter
}

// NewMetrics creates and registers all metric instruments.
// All fields are always initialized: OTel returns noop instruments when no
// MeterProvider is set.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("prtl")
	m := &Metrics{}
	var err error

	if m.IngressRequests, err = meter.Int64Counter("prtl.ingress.requests",
		metric.WithDescription("Total ingress requests by status class")); err != nil {
		return nil, err
	}
	if m.IngressRejected, err = meter.Int64Counter("prtl.ingress.rate_limited",
		metric.WithDescription("Ingress requests rejected by the rate limiter")); err != nil {
		return nil, err
	}
	if m.IngressDuration, err = meter.Float64Histogram("prtl.ingress.duration_seconds",
		metric.WithDescription("Ingress request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30)); err != nil {
		return nil, err
	}
	if m.CacheHits, err = meter.Int64Counter("prtl.cache.hits",
		metric.WithDescription("Response cache hits")); err != nil {
		return nil, err
	}
	if m.CacheMisses, err = meter.Int64Counter("prtl.cache.misses",
		metric.WithDescription("Response cache misses, including degraded reads")); err != nil {
		return nil, err
	}
	if m.CacheWriteErrors, err = meter.Int64Counter("prtl.cache.write_errors",
		metric.WithDescription("Failed cache write-throughs")); err != nil {
		return nil, err
	}
	if m.RPCTotal, err = meter.Int64Counter("prtl.rpc.total",
		metric.WithDescription("Total RPC calls dispatched to workers")); err != nil {
		return nil, err
	}
	if m.RPCErrors, err = meter.Int64Counter("prtl.rpc.errors",
		metric.WithDescription("Failed RPC calls")); err != nil {
		return nil, err
	}
	if m.RPCDuration, err = meter.Float64Histogram("prtl.rpc.duration_seconds",
		metric.WithDescription("RPC round-trip duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30)); err != nil {
		return nil, err
	}
	if m.Registrations, err = meter.Int64Counter("prtl.discovery.registrations",
		metric.WithDescription("Accepted worker registrations")); err != nil {
		return nil, err
	}
	if m.DiscoveryBroadcasts, err = meter.Int64Counter("prtl.discovery.broadcasts",
		metric.WithDescription("Discovery broadcasts published")); err != nil {
		return nil, err
	}
	if m.RegisteredServices, err = meter.Int64UpDownCounter("prtl.discovery.services",
		metric.WithDescription("Distinct services currently registered")); err != nil {
		return nil, err
	}
	if m.RefreshScans, err = meter.Int64Counter("prtl.refresh.scans",
		metric.WithDescription("Cache refresh scans performed")); err != nil {
		return nil, err
	}
	if m.RefreshCandidates, err = meter.Int64Counter("prtl.refresh.candidates",
		metric.WithDescription("Cache entries flagged as refresh candidates")); err != nil {
		return nil, err
	}
	if m.BusMessagesDropped, err = meter.Int64Counter("prtl.bus.dropped",
		metric.WithDescription("Messages dropped by the in-process bus")); err != nil {
		return nil, err
	}
	if m.EnvelopesDropped, err = meter.Int64Counter("prtl.bus.envelopes_dropped",
		metric.WithDescription("Inbound envelopes dropped as malformed or unexpected")); err != nil {
		return nil, err
	}

	return m, nil
}
