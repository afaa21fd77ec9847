package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/zerowrap"

	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
)

// Announcer is the worker half of the handshake. It publishes the worker's
// descriptor once at start and again for every discovery broadcast.
type Announcer struct {
	bus        out.Bus
	codec      out.EnvelopeCodec
	descriptor domain.ProxyDescriptor
	subjects   domain.Subjects
	log        zerowrap.Logger

	mu  sync.Mutex
	sub out.Subscription
}

// NewAnnouncer creates an announcer for descriptor.
func NewAnnouncer(bus out.Bus, codec out.EnvelopeCodec, descriptor domain.ProxyDescriptor, subjects domain.Subjects, log zerowrap.Logger) *Announcer {
	return &Announcer{
		bus:        bus,
		codec:      codec,
		descriptor: descriptor.Clone(),
		subjects:   subjects,
		log:        log,
	}
}

// Start announces the descriptor, then answers every discovery broadcast
// with one re-announce.
func (a *Announcer) Start(ctx context.Context) error {
	if err := a.descriptor.Validate(); err != nil {
		return fmt.Errorf("announce %q: %w", a.descriptor.ServiceName, err)
	}

	if err := a.Announce(ctx); err != nil {
		return err
	}

	handlerCtx := context.WithoutCancel(ctx)
	sub, err := a.bus.Subscribe(a.subjects.Discovery(), func(*out.Message) {
		if err := a.Announce(handlerCtx); err != nil {
			a.log.Warn().
				Str(zerowrap.FieldLayer, "usecase").
				Str(zerowrap.FieldUseCase, "Announce").
				Str(zerowrap.FieldService, a.descriptor.ServiceName).
				Err(err).
				Msg("re-announce failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", a.subjects.Discovery(), err)
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()
	return nil
}

// Announce publishes one RegisterParser on the worker's register subject.
func (a *Announcer) Announce(ctx context.Context) error {
	data, err := a.codec.EncodeEnvelope(domain.RegisterParser{Descriptor: a.descriptor})
	if err != nil {
		return err
	}

	subject := a.subjects.Register(a.descriptor.ServiceName)
	if err := a.bus.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	a.log.Info().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "Announce").
		Str(zerowrap.FieldService, a.descriptor.ServiceName).
		Strs("base_domains", a.descriptor.BaseDomains).
		Msg("descriptor announced")
	return nil
}

// Stop stops answering discovery broadcasts.
func (a *Announcer) Stop() error {
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}
