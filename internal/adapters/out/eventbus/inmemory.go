// Package eventbus implements an in-process message bus with NATS-style
// subjects. It backs single-binary dev mode and end-to-end tests.
package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
)

// Ensure InMemory implements out.Bus.
var _ out.Bus = (*InMemory)(nil)

const (
	defaultBufferSize     = 256
	defaultRequestTimeout = 30 * time.Second
	publishTimeout        = 5 * time.Second
	inboxPrefix           = "_INBOX."
)

// InMemory implements out.Bus using in-memory channels. Messages flow through
// one dispatch loop into a queue per subscription; each subscription delivers
// sequentially on its own goroutine, so a handler that publishes never blocks
// the dispatch loop.
type InMemory struct {
	subs           []*subscription
	msgChan        chan out.Message
	done           chan struct{}
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	bufferSize     int
	requestTimeout time.Duration
	pending        atomic.Int64
	started        atomic.Bool
	log            zerowrap.Logger
	metrics        *telemetry.Metrics
}

type subscription struct {
	bus     *InMemory
	pattern string
	handler out.MessageHandler
	queue   chan out.Message
	stop    chan struct{}
	once    sync.Once
}

// NewInMemory creates a new in-memory bus. A zero requestTimeout uses 30s.
func NewInMemory(bufferSize int, requestTimeout time.Duration, log zerowrap.Logger) *InMemory {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &InMemory{
		subs:           make([]*subscription, 0),
		msgChan:        make(chan out.Message, bufferSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		bufferSize:     bufferSize,
		requestTimeout: requestTimeout,
		log:            log,
	}
}

// SetMetrics sets the telemetry metrics for the bus.
// Must be called before Start() to avoid data races on bus.metrics reads.
func (bus *InMemory) SetMetrics(m *telemetry.Metrics) {
	bus.mu.Lock()
	bus.metrics = m
	bus.mu.Unlock()
}

// Start starts the dispatch loop. It is idempotent.
func (bus *InMemory) Start() error {
	if !bus.started.CompareAndSwap(false, true) {
		return nil
	}

	bus.log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "eventbus").
		Int("buffer_size", bus.bufferSize).
		Msg("starting in-memory bus")

	go bus.dispatch()
	return nil
}

// Publish sends data to every subscriber of subject.
func (bus *InMemory) Publish(ctx context.Context, subject string, data []byte) error {
	return bus.publish(ctx, out.Message{Subject: subject, Data: data})
}

func (bus *InMemory) publish(ctx context.Context, msg out.Message) error {
	if err := validateSubject(msg.Subject, false); err != nil {
		return err
	}
	if bus.ctx.Err() != nil {
		return domain.ErrBusClosed
	}

	bus.pending.Add(1)
	select {
	case bus.msgChan <- msg:
		return nil
	case <-bus.ctx.Done():
		bus.pending.Add(-1)
		return domain.ErrBusClosed
	case <-ctx.Done():
		bus.pending.Add(-1)
		return fmt.Errorf("%w: %v", domain.ErrTransport, ctx.Err())
	case <-time.After(publishTimeout):
		bus.pending.Add(-1)
		bus.log.Error().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "eventbus").
			Str("subject", msg.Subject).
			Msg("bus channel is full, dropping message after 5s timeout")
		bus.recordDropped(msg.Subject)
		return fmt.Errorf("%w: bus channel is full, dropping message on %s", domain.ErrTransport, msg.Subject)
	}
}

// Subscribe registers handler for subject; "*" and ">" wildcards are honoured.
func (bus *InMemory) Subscribe(subject string, handler out.MessageHandler) (out.Subscription, error) {
	if err := validateSubject(subject, true); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if bus.ctx.Err() != nil {
		return nil, domain.ErrBusClosed
	}

	sub := &subscription{
		bus:     bus,
		pattern: subject,
		handler: handler,
		queue:   make(chan out.Message, bus.bufferSize),
		stop:    make(chan struct{}),
	}

	bus.mu.Lock()
	bus.subs = append(bus.subs, sub)
	total := len(bus.subs)
	bus.mu.Unlock()

	go sub.run()

	if !strings.HasPrefix(subject, inboxPrefix) {
		bus.log.Debug().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "eventbus").
			Str("subject", subject).
			Int("total_subscriptions", total).
			Msg("subscription added")
	}

	return sub, nil
}

// Request publishes data with an ephemeral inbox and waits for the first reply.
// Like NATS, it fails fast when nobody is subscribed to subject.
func (bus *InMemory) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bus.requestTimeout)
		defer cancel()
	}

	if !bus.hasSubscriber(subject) {
		return nil, fmt.Errorf("%w: no responders on %s", domain.ErrNoReply, subject)
	}

	inbox := inboxPrefix + uuid.New().String()
	replies := make(chan []byte, 1)
	sub, err := bus.Subscribe(inbox, func(msg *out.Message) {
		select {
		case replies <- msg.Data:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := bus.publish(ctx, out.Message{Subject: subject, Reply: inbox, Data: data}); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNoReply, subject, ctx.Err())
	case <-bus.ctx.Done():
		return nil, domain.ErrBusClosed
	}
}

// Flush waits until every published message has been handled.
func (bus *InMemory) Flush(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for bus.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-bus.ctx.Done():
			return domain.ErrBusClosed
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops the bus and every subscription.
func (bus *InMemory) Close() error {
	bus.log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "eventbus").
		Msg("stopping in-memory bus")

	bus.cancel()

	bus.mu.Lock()
	subs := bus.subs
	bus.subs = nil
	bus.mu.Unlock()
	for _, s := range subs {
		s.close()
	}

	if !bus.started.Load() {
		return nil
	}

	select {
	case <-bus.done:
		return nil
	case <-time.After(5 * time.Second):
		bus.log.Warn().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "eventbus").
			Msg("bus stop timeout")
		return fmt.Errorf("timeout waiting for bus to stop")
	}
}

func (bus *InMemory) dispatch() {
	defer close(bus.done)

	for {
		select {
		case msg := <-bus.msgChan:
			bus.route(msg)
		case <-bus.ctx.Done():
			return
		}
	}
}

func (bus *InMemory) route(msg out.Message) {
	bus.mu.RLock()
	targets := make([]*subscription, 0, len(bus.subs))
	for _, s := range bus.subs {
		if matchSubject(s.pattern, msg.Subject) {
			targets = append(targets, s)
		}
	}
	bus.mu.RUnlock()

	// The routed message is replaced by one pending unit per delivery.
	bus.pending.Add(int64(len(targets)) - 1)

	for _, s := range targets {
		s.enqueue(msg)
	}
}

func (bus *InMemory) hasSubscriber(subject string) bool {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, s := range bus.subs {
		if matchSubject(s.pattern, subject) {
			return true
		}
	}
	return false
}

func (bus *InMemory) remove(sub *subscription) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	for i, s := range bus.subs {
		if s == sub {
			bus.subs = append(bus.subs[:i], bus.subs[i+1:]...)
			return
		}
	}
}

func (bus *InMemory) recordDropped(subject string) {
	bus.mu.RLock()
	m := bus.metrics
	bus.mu.RUnlock()

	if m != nil {
		m.BusMessagesDropped.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("subject", subject),
		))
	}
}

// enqueue hands msg to the subscription, or releases its pending unit when
// the subscription or the bus is gone.
func (s *subscription) enqueue(msg out.Message) {
	select {
	case s.queue <- msg:
	case <-s.stop:
		s.bus.pending.Add(-1)
		return
	case <-s.bus.ctx.Done():
		s.bus.pending.Add(-1)
		return
	}

	// run may already have drained and exited.
	select {
	case <-s.stop:
		s.drain()
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case msg := <-s.queue:
			s.deliver(msg)
		case <-s.stop:
			s.drain()
			return
		}
	}
}

// drain releases whatever is still queued so Flush does not wait forever.
func (s *subscription) drain() {
	for {
		select {
		case <-s.queue:
			s.bus.pending.Add(-1)
		default:
			return
		}
	}
}

func (s *subscription) deliver(msg out.Message) {
	defer s.bus.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			s.bus.log.Error().
				Str(zerowrap.FieldLayer, "adapter").
				Str(zerowrap.FieldAdapter, "eventbus").
				Str("subject", msg.Subject).
				Interface("panic", r).
				Msg("subscription handler panicked")
		}
	}()

	m := msg
	s.handler(&m)
}

// Unsubscribe removes the subscription; queued messages are discarded.
func (s *subscription) Unsubscribe() error {
	s.bus.remove(s)
	s.close()
	return nil
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.stop) })
}

// validateSubject rejects empty tokens; wildcards are only legal in
// subscriptions.
func validateSubject(subject string, allowWildcards bool) error {
	if subject == "" {
		return fmt.Errorf("%w: empty subject", domain.ErrTransport)
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return fmt.Errorf("%w: invalid subject %q", domain.ErrTransport, subject)
		case tok == "*" || tok == ">":
			if !allowWildcards {
				return fmt.Errorf("%w: wildcard in publish subject %q", domain.ErrTransport, subject)
			}
			if tok == ">" && i != len(tokens)-1 {
				return fmt.Errorf("%w: '>' must be the last token in %q", domain.ErrTransport, subject)
			}
		}
	}
	return nil
}

// matchSubject reports whether subject matches pattern under NATS rules.
func matchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
