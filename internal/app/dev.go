package app

import (
	"context"

	"github.com/bnema/zerowrap"
	"golang.org/x/sync/errgroup"

	"github.com/prtl/prtl/internal/adapters/in/http/admin"
	"github.com/prtl/prtl/internal/adapters/out/eventbus"
	"github.com/prtl/prtl/internal/adapters/out/msgpack"
	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/in"
	"github.com/prtl/prtl/internal/usecase/worker"
	"github.com/prtl/prtl/pkg/version"
)

const devBusBuffer = 256

// RunDev runs the gateway and every built-in worker in one process over the
// in-process bus and the in-memory cache. No NATS or Redis is needed.
func RunDev(ctx context.Context, opts Options) error {
	cfg, err := initConfig(opts)
	if err != nil {
		return err
	}
	cfg.Cache.Backend = CacheBackendMemory
	if cfg.RateLimit.Backend == "redis" {
		cfg.RateLimit.Backend = "memory"
	}

	log, cleanup, err := initLogger(cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	ctx = zerowrap.WithCtx(ctx, log)
	log.Info().
		Str(zerowrap.FieldLayer, "app").
		Str(zerowrap.FieldComponent, "dev").
		Strs("workers", WorkerNames()).
		Msg("starting single-process mesh")

	provider, shutdownTelemetry, err := telemetry.NewProvider(ctx, cfg.Telemetry, "prtl-dev", version.Version())
	if err != nil {
		return log.WrapErr(err, "failed to initialize telemetry")
	}
	defer shutdownTelemetry(context.Background())

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return log.WrapErr(err, "failed to create metrics")
	}

	bus := eventbus.NewInMemory(devBusBuffer, cfg.Bus.RequestTimeout, log)
	bus.SetMetrics(metrics)
	if err := bus.Start(); err != nil {
		return log.WrapErr(err, "failed to start in-process bus")
	}
	defer bus.Close()

	backend, err := createCacheBackend(ctx, cfg, log)
	if err != nil {
		return log.WrapErr(err, "failed to create cache store")
	}
	defer backend.close()

	checks := map[string]admin.CheckFunc{"bus": bus.Flush}
	stack, err := newGatewayStack(cfg, bus, backend, provider.Handler(), checks, metrics, log)
	if err != nil {
		return err
	}

	workers := make([]in.ProxyWorker, 0, len(builtinWorkers))
	for _, name := range WorkerNames() {
		w, err := newWorker(name, cfg)
		if err != nil {
			return err
		}
		workers = append(workers, w)
	}

	return runUntilSignal(ctx, func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return stack.serve(ctx) })
		for _, w := range workers {
			g.Go(func() error {
				return worker.Serve(ctx, bus, msgpack.NewCodec(), w, cfg.Subjects())
			})
		}
		return g.Wait()
	})
}
