// Package natsbus implements the out.Bus port on NATS core request/reply.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/nats-io/nats.go"

	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
)

// Ensure Bus implements out.Bus.
var _ out.Bus = (*Bus)(nil)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultDrainTimeout   = 30 * time.Second
)

// Config holds the NATS connection settings.
type Config struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
}

// Bus is a NATS-backed message bus.
type Bus struct {
	nc             *nats.Conn
	requestTimeout time.Duration
	drainTimeout   time.Duration
	closed         chan struct{}
	log            zerowrap.Logger
}

// Connect dials the NATS server described by cfg.
func Connect(cfg Config, log zerowrap.Logger) (*Bus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().
					Str(zerowrap.FieldLayer, "adapter").
					Str(zerowrap.FieldAdapter, "natsbus").
					Err(err).
					Msg("disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().
				Str(zerowrap.FieldLayer, "adapter").
				Str(zerowrap.FieldAdapter, "natsbus").
				Str("url", nc.ConnectedUrlRedacted()).
				Msg("reconnected to nats")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().
				Str(zerowrap.FieldLayer, "adapter").
				Str(zerowrap.FieldAdapter, "natsbus").
				Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("nats async error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", domain.ErrTransport, cfg.URL, err)
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "natsbus").
		Str("url", nc.ConnectedUrlRedacted()).
		Dur("request_timeout", cfg.RequestTimeout).
		Msg("connected to nats")

	return &Bus{
		nc:             nc,
		requestTimeout: cfg.RequestTimeout,
		drainTimeout:   cfg.DrainTimeout,
		closed:         closed,
		log:            log,
	}, nil
}

// Publish sends data on subject.
func (b *Bus) Publish(_ context.Context, subject string, data []byte) error {
	if err := b.nc.Publish(subject, data); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Subscribe registers handler for subject. NATS delivers each subscription's
// messages sequentially on one goroutine.
func (b *Bus) Subscribe(subject string, handler out.MessageHandler) (out.Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(&out.Message{Subject: m.Subject, Reply: m.Reply, Data: m.Data})
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	return sub, nil
}

// Request publishes data with an ephemeral inbox and waits for the first reply.
func (b *Bus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	ctx, cancel := b.withDefaultTimeout(ctx)
	defer cancel()

	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrNoReply, subject, err)
		}
		return nil, wrapErr(err)
	}
	return msg.Data, nil
}

// Flush round-trips to the server so prior publishes have been processed.
func (b *Bus) Flush(ctx context.Context) error {
	ctx, cancel := b.withDefaultTimeout(ctx)
	defer cancel()

	if err := b.nc.FlushWithContext(ctx); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Close drains subscriptions, letting in-flight handlers finish and their
// replies flush, and returns once the connection is closed.
func (b *Bus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if !b.nc.IsDraining() {
		if err := b.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.nc.Close()
			return wrapErr(err)
		}
	}

	// nats enforces DrainTimeout itself; the extra second covers the close callback.
	select {
	case <-b.closed:
		return nil
	case <-time.After(b.drainTimeout + time.Second):
		b.nc.Close()
		return fmt.Errorf("%w: drain did not complete within %s", domain.ErrTransport, b.drainTimeout)
	}
}

func (b *Bus) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.requestTimeout)
}

func wrapErr(err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrConnectionDraining) {
		return fmt.Errorf("%w: %v", domain.ErrBusClosed, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransport, err)
}
