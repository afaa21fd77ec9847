// Package gateway implements the gateway request pipeline: target parsing,
// registry lookup, cache fast path and RPC dispatch to workers.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/in"
	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
	"github.com/prtl/prtl/internal/usecase/cachekey"
)

// Ensure Service implements in.GatewayService.
var _ in.GatewayService = (*Service)(nil)

// Service is the gateway router.
type Service struct {
	registry in.ProxyRegistry
	cache    out.ResponseCache
	bus      out.Bus
	codec    out.EnvelopeCodec
	subjects domain.Subjects
	metrics  *telemetry.Metrics
}

// NewService creates a gateway router.
func NewService(registry in.ProxyRegistry, cache out.ResponseCache, bus out.Bus, codec out.EnvelopeCodec, subjects domain.Subjects) *Service {
	return &Service{
		registry: registry,
		cache:    cache,
		bus:      bus,
		codec:    codec,
		subjects: subjects,
	}
}

// SetMetrics sets the telemetry metrics for the router.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Handle serves req from the cache or dispatches exactly one RPC to the
// worker owning the target domain. 2xx replies are written through to the
// cache with the descriptor's TTL.
func (s *Service) Handle(ctx context.Context, req in.InboundRequest) (*domain.ProxyResponse, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Gateway",
	})
	log := zerowrap.FromCtx(ctx)

	target, err := ParseTarget(req.Path, req.RawQuery)
	if err != nil {
		log.Debug().Err(err).Str(zerowrap.FieldPath, req.Path).Msg("rejecting request target")
		return nil, err
	}

	descriptor, ok := s.registry.FindByDomain(target.Host)
	if !ok {
		log.Debug().Str(zerowrap.FieldHost, target.Host).Msg("no proxy registered for domain")
		return nil, fmt.Errorf("%w: %s", domain.ErrNoProxyAvailable, target.Host)
	}

	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldService: descriptor.ServiceName,
		zerowrap.FieldHost:    target.Host,
	})
	log = zerowrap.FromCtx(ctx)

	headers := canonicalHeaders(req.Headers)
	outbound := domain.ProxyRequest{
		Method:  req.Method,
		URI:     target.URL.String(),
		Headers: headers,
		Body:    req.Body,
	}

	digest := cachekey.Derive(cachekey.Request{
		Path:     target.URL.EscapedPath(),
		RawQuery: target.URL.RawQuery,
		Headers:  headers,
	}, descriptor.HashPolicy)
	key := cachekey.Key(descriptor.ServiceName, digest)

	if cached, hit := s.cache.Get(ctx, key); hit {
		log.Debug().Str("cache_key", key).Msg("serving from cache")
		return cached.ToResponse(), nil
	}

	resp, err := s.dispatch(ctx, descriptor.ServiceName, &outbound)
	if err != nil {
		return nil, log.WrapErr(err, "rpc dispatch failed")
	}
	resp.Headers = domain.StripHopHeaders(resp.Headers)

	if resp.IsSuccess() {
		s.cache.Set(ctx, key, domain.CachedResponse{
			Status:  resp.Status,
			Headers: resp.Headers,
			Body:    resp.Body,
		}, descriptor.EffectiveTTL())
	}

	return resp, nil
}

// dispatch performs the single RPC round trip for req. The bus applies its
// default timeout when ctx has no deadline.
func (s *Service) dispatch(ctx context.Context, service string, req *domain.ProxyRequest) (*domain.ProxyResponse, error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("service", service))

	resp, err := s.roundTrip(ctx, service, req)

	if s.metrics != nil {
		s.metrics.RPCTotal.Add(ctx, 1, attrs)
		s.metrics.RPCDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			s.metrics.RPCErrors.Add(ctx, 1, attrs)
		}
	}
	return resp, err
}

func (s *Service) roundTrip(ctx context.Context, service string, req *domain.ProxyRequest) (*domain.ProxyResponse, error) {
	data, err := s.codec.EncodeEnvelope(req)
	if err != nil {
		return nil, err
	}

	raw, err := s.bus.Request(ctx, s.subjects.RPC(service), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	env, err := s.codec.DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	resp, ok := env.(domain.ProxyResponse)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnexpectedReply, env.Kind())
	}
	return &resp, nil
}

// canonicalHeaders lower-cases header names and drops hop headers.
func canonicalHeaders(headers []domain.Header) []domain.Header {
	out := make([]domain.Header, 0, len(headers))
	for _, h := range headers {
		if domain.IsHopHeader(h.Name) {
			continue
		}
		out = append(out, domain.Header{Name: strings.ToLower(h.Name), Value: h.Value})
	}
	return out
}
