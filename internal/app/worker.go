package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/prtl/prtl/internal/adapters/out/msgpack"
	"github.com/prtl/prtl/internal/adapters/out/natsbus"
	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/in"
	"github.com/prtl/prtl/internal/usecase/worker"
	"github.com/prtl/prtl/internal/workers/cdnlibs"
	"github.com/prtl/prtl/pkg/version"
)

// workerFactory builds a worker from configuration.
type workerFactory func(cfg Config) in.ProxyWorker

// builtinWorkers are the workers this binary can run, by service name.
var builtinWorkers = map[string]workerFactory{
	cdnlibs.ServiceName: func(cfg Config) in.ProxyWorker {
		client := cleanhttp.DefaultPooledClient()
		client.Timeout = cfg.Worker.UpstreamTimeout
		return cdnlibs.New(client)
	},
}

// WorkerNames lists the built-in workers.
func WorkerNames() []string {
	names := make([]string, 0, len(builtinWorkers))
	for name := range builtinWorkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newWorker(name string, cfg Config) (in.ProxyWorker, error) {
	factory, ok := builtinWorkers[name]
	if !ok {
		return nil, fmt.Errorf("unknown worker %q (available: %s)", name, strings.Join(WorkerNames(), ", "))
	}
	return factory(cfg), nil
}

// RunWorker connects to the bus and serves the named built-in worker.
func RunWorker(ctx context.Context, opts Options, name string) error {
	cfg, err := initConfig(opts)
	if err != nil {
		return err
	}

	log, cleanup, err := initLogger(cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	w, err := newWorker(name, cfg)
	if err != nil {
		return err
	}

	ctx = zerowrap.WithCtx(ctx, log)
	log.Info().
		Str(zerowrap.FieldLayer, "app").
		Str(zerowrap.FieldComponent, "worker").
		Str(zerowrap.FieldService, name).
		Str("version", version.Version()).
		Msg("starting worker")

	// Workers export over OTLP only; they have no admin listener.
	telemetryCfg := cfg.Telemetry
	telemetryCfg.Prometheus = false
	_, shutdownTelemetry, err := telemetry.NewProvider(ctx, telemetryCfg, "prtl-worker-"+name, version.Version())
	if err != nil {
		return log.WrapErr(err, "failed to initialize telemetry")
	}
	defer shutdownTelemetry(context.Background())

	busCfg := cfg.Bus.Config
	busCfg.Name = "prtl-worker-" + name
	bus, err := natsbus.Connect(busCfg, log)
	if err != nil {
		return log.WrapErr(err, "failed to connect to bus")
	}
	defer bus.Close()

	return runUntilSignal(ctx, func(ctx context.Context) error {
		return worker.Serve(ctx, bus, msgpack.NewCodec(), w, cfg.Subjects())
	})
}
