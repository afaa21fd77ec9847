// Package registry implements the gateway's proxy registry: the live mapping
// from service name to the descriptor its worker announced.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/bnema/zerowrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/in"
	"github.com/prtl/prtl/internal/domain"
)

// Ensure Service implements in.ProxyRegistry.
var _ in.ProxyRegistry = (*Service)(nil)

// Service is the in-memory registry shared by the ingress and the discovery
// listener. Lookups scan services in first-registration order.
type Service struct {
	mu       sync.RWMutex
	services map[string]domain.ProxyDescriptor
	order    []string
	log      zerowrap.Logger
	metrics  *telemetry.Metrics
}

// NewService creates an empty registry.
func NewService(log zerowrap.Logger) *Service {
	return &Service{
		services: make(map[string]domain.ProxyDescriptor),
		log:      log,
	}
}

// SetMetrics sets the telemetry metrics for the registry.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Register inserts or fully replaces the descriptor for its service name.
// A replaced service keeps its original lookup position.
func (s *Service) Register(descriptor domain.ProxyDescriptor) {
	d := descriptor.Clone()

	s.mu.Lock()
	_, replaced := s.services[d.ServiceName]
	if !replaced {
		s.order = append(s.order, d.ServiceName)
	}
	s.services[d.ServiceName] = d
	total := len(s.order)
	m := s.metrics
	s.mu.Unlock()

	if m != nil {
		m.Registrations.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("service", d.ServiceName),
		))
		if !replaced {
			m.RegisteredServices.Add(context.Background(), 1)
		}
	}

	s.log.Info().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "Register").
		Str(zerowrap.FieldService, d.ServiceName).
		Strs("base_domains", d.BaseDomains).
		Str("hash_policy", d.HashPolicy.String()).
		Dur("cache_ttl", d.EffectiveTTL()).
		Bool("replaced", replaced).
		Int(zerowrap.FieldCount, total).
		Msg("proxy registered")
}

// FindByDomain returns the first descriptor, in registration order, with a
// base domain equal to host or a dot-suffix of it.
func (s *Service) FindByDomain(host string) (domain.ProxyDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range s.order {
		d := s.services[name]
		if d.Serves(host) {
			return d.Clone(), true
		}
	}
	return domain.ProxyDescriptor{}, false
}

// Services returns a snapshot of all descriptors sorted by service name.
func (s *Service) Services() []domain.ProxyDescriptor {
	s.mu.RLock()
	out := make([]domain.ProxyDescriptor, 0, len(s.services))
	for _, d := range s.services {
		out = append(out, d.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ServiceName < out[j].ServiceName
	})
	return out
}
