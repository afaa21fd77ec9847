// Package discovery implements the registration handshake between workers
// and the gateway.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/in"
	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
)

// Listener is the gateway half of the handshake. It feeds registrations into
// the registry and asks running workers to announce themselves.
type Listener struct {
	bus      out.Bus
	codec    out.EnvelopeCodec
	registry in.ProxyRegistry
	subjects domain.Subjects
	log      zerowrap.Logger
	metrics  *telemetry.Metrics

	// RebroadcastInterval re-publishes Discovery periodically; zero disables.
	RebroadcastInterval time.Duration

	mu  sync.Mutex
	sub out.Subscription
}

// NewListener creates a registration listener.
func NewListener(bus out.Bus, codec out.EnvelopeCodec, registry in.ProxyRegistry, subjects domain.Subjects, log zerowrap.Logger) *Listener {
	return &Listener{
		bus:      bus,
		codec:    codec,
		registry: registry,
		subjects: subjects,
		log:      log,
	}
}

// SetMetrics sets the telemetry metrics for the listener.
func (l *Listener) SetMetrics(m *telemetry.Metrics) {
	l.metrics = m
}

// Start subscribes to every worker's register subject and then broadcasts
// one Discovery so already-running workers re-announce.
func (l *Listener) Start(ctx context.Context) error {
	handlerCtx := context.WithoutCancel(ctx)
	subject := l.subjects.AllRegistrations()

	sub, err := l.bus.Subscribe(subject, func(msg *out.Message) {
		l.handleRegistration(handlerCtx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()

	l.log.Info().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "Discovery").
		Str("subject", subject).
		Msg("listening for registrations")

	return l.Broadcast(ctx)
}

// Run starts the listener and blocks until ctx is done, re-broadcasting on
// RebroadcastInterval when set.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = l.Stop() }()

	if l.RebroadcastInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(l.RebroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Broadcast(ctx); err != nil {
				l.log.Warn().Err(err).Msg("discovery re-broadcast failed")
			}
		}
	}
}

// Broadcast publishes one Discovery message.
func (l *Listener) Broadcast(ctx context.Context) error {
	data, err := l.codec.EncodeEnvelope(domain.Discovery{})
	if err != nil {
		return err
	}
	if err := l.bus.Publish(ctx, l.subjects.Discovery(), data); err != nil {
		return fmt.Errorf("publish %s: %w", l.subjects.Discovery(), err)
	}

	if l.metrics != nil {
		l.metrics.DiscoveryBroadcasts.Add(ctx, 1)
	}
	l.log.Debug().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "Discovery").
		Msg("discovery broadcast sent")
	return nil
}

// Stop unsubscribes from registrations.
func (l *Listener) Stop() error {
	l.mu.Lock()
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (l *Listener) handleRegistration(ctx context.Context, msg *out.Message) {
	log := l.log.With().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "Register").
		Str("subject", msg.Subject).
		Logger()

	env, err := l.codec.DecodeEnvelope(msg.Data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable registration")
		l.dropped(ctx, "undecodable")
		return
	}

	reg, ok := env.(domain.RegisterParser)
	if !ok {
		log.Warn().Str("kind", string(env.Kind())).Msg("dropping unexpected envelope on register subject")
		l.dropped(ctx, "unexpected")
		return
	}

	if err := reg.Descriptor.Validate(); err != nil {
		log.Warn().Str(zerowrap.FieldService, reg.Descriptor.ServiceName).Err(err).Msg("rejecting registration")
		l.reply(ctx, msg.Reply, domain.RegisterParserReply{Accepted: false, Reason: err.Error()})
		return
	}

	l.registry.Register(reg.Descriptor)
	l.reply(ctx, msg.Reply, domain.RegisterParserReply{Accepted: true})
}

func (l *Listener) reply(ctx context.Context, to string, r domain.RegisterParserReply) {
	if to == "" {
		return
	}
	data, err := l.codec.EncodeEnvelope(r)
	if err == nil {
		err = l.bus.Publish(ctx, to, data)
	}
	if err != nil {
		l.log.Warn().Err(err).Str("reply", to).Msg("registration reply failed")
	}
}

func (l *Listener) dropped(ctx context.Context, reason string) {
	if l.metrics != nil {
		l.metrics.EnvelopesDropped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("subject", "register"),
			attribute.String("reason", reason),
		))
	}
}
