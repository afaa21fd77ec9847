// Package worker runs a ProxyWorker on the bus: it answers RPC requests on
// the worker's rpc subject and keeps the worker registered with gateways.
package worker

import (
	"context"
	"fmt"
	"net/http"
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

// Server dispatches RPC messages to a ProxyWorker. Each message is handled on
// its own goroutine; replies are unordered.
type Server struct {
	bus      out.Bus
	codec    out.EnvelopeCodec
	worker   in.ProxyWorker
	subjects domain.Subjects
	log      zerowrap.Logger
	metrics  *telemetry.Metrics

	mu       sync.Mutex
	sub      out.Subscription
	inflight sync.WaitGroup
}

// NewServer creates an RPC server for w.
func NewServer(bus out.Bus, codec out.EnvelopeCodec, w in.ProxyWorker, subjects domain.Subjects, log zerowrap.Logger) *Server {
	return &Server{
		bus:      bus,
		codec:    codec,
		worker:   w,
		subjects: subjects,
		log:      log,
	}
}

// SetMetrics sets the telemetry metrics for the server.
func (s *Server) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Start subscribes to the worker's rpc subject. Handlers run detached from
// ctx cancellation so Stop can drain in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	handlerCtx := context.WithoutCancel(ctx)
	subject := s.subjects.RPC(s.worker.Descriptor().ServiceName)

	sub, err := s.bus.Subscribe(subject, func(msg *out.Message) {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.handle(handlerCtx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.log.Info().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "WorkerServer").
		Str(zerowrap.FieldService, s.worker.Descriptor().ServiceName).
		Str("subject", subject).
		Msg("worker accepting requests")
	return nil
}

// Stop unsubscribes and waits for in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight requests: %w", ctx.Err())
	}
}

func (s *Server) handle(ctx context.Context, msg *out.Message) {
	service := s.worker.Descriptor().ServiceName
	log := s.log.With().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "WorkerServer").
		Str(zerowrap.FieldService, service).
		Logger()

	if msg.Reply == "" {
		log.Warn().Msg("dropping request without reply address")
		s.dropped(ctx, "no_reply")
		return
	}

	env, err := s.codec.DecodeEnvelope(msg.Data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable request")
		s.dropped(ctx, "undecodable")
		return
	}

	req, ok := env.(domain.ProxyRequest)
	if !ok {
		log.Warn().Str("kind", string(env.Kind())).Msg("dropping unexpected envelope on rpc subject")
		s.dropped(ctx, "unexpected")
		return
	}

	ctx = zerowrap.WithCtx(ctx, s.log)
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "worker",
		zerowrap.FieldService: service,
		zerowrap.FieldMethod:  req.Method,
		"uri":                 req.URI,
	})

	start := time.Now()
	resp := s.invoke(ctx, &req)

	log.Debug().
		Str(zerowrap.FieldMethod, req.Method).
		Str("uri", req.URI).
		Int(zerowrap.FieldStatus, int(resp.Status)).
		Dur(zerowrap.FieldDuration, time.Since(start)).
		Msg("request handled")

	data, err := s.codec.EncodeEnvelope(*resp)
	if err != nil {
		log.Error().Err(err).Msg("encoding response failed")
		data, err = s.codec.EncodeEnvelope(errorResponse(fmt.Errorf("%w: %v", domain.ErrSerialization, err)))
		if err != nil {
			return
		}
	}

	if err := s.bus.Publish(ctx, msg.Reply, data); err != nil {
		log.Error().Err(err).Msg("publishing reply failed")
	}
}

// invoke calls the worker, turning errors and panics into a 500 response.
func (s *Server) invoke(ctx context.Context, req *domain.ProxyRequest) (resp *domain.ProxyResponse) {
	defer func() {
		if r := recover(); r != nil {
			log := zerowrap.FromCtx(ctx)
			log.Error().Interface("panic", r).Msg("worker handler panicked")
			resp = errorResponse(fmt.Errorf("%w: panic: %v", domain.ErrHandlerFailed, r))
		}
	}()

	resp, err := s.worker.Handle(ctx, req)
	if err != nil {
		log := zerowrap.FromCtx(ctx)
		log.Warn().Err(err).Msg("worker handler failed")
		return errorResponse(err)
	}
	if resp == nil {
		return errorResponse(fmt.Errorf("%w: nil response", domain.ErrHandlerFailed))
	}
	return resp
}

func (s *Server) dropped(ctx context.Context, reason string) {
	if s.metrics != nil {
		s.metrics.EnvelopesDropped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("subject", "rpc"),
			attribute.String("reason", reason),
		))
	}
}

// errorResponse synthesizes the reply sent when the worker cannot produce one.
func errorResponse(err error) *domain.ProxyResponse {
	return &domain.ProxyResponse{
		Status:  http.StatusInternalServerError,
		Headers: []domain.Header{{Name: "content-type", Value: "text/plain; charset=utf-8"}},
		Body:    []byte(err.Error()),
	}
}
