package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bnema/zerowrap"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/prtl/prtl/internal/adapters/in/http/admin"
	"github.com/prtl/prtl/internal/adapters/in/http/middleware"
	"github.com/prtl/prtl/internal/adapters/in/http/proxy"
	"github.com/prtl/prtl/internal/adapters/out/memstore"
	"github.com/prtl/prtl/internal/adapters/out/msgpack"
	"github.com/prtl/prtl/internal/adapters/out/natsbus"
	"github.com/prtl/prtl/internal/adapters/out/ratelimit"
	"github.com/prtl/prtl/internal/adapters/out/redisstore"
	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/usecase/cache"
	"github.com/prtl/prtl/internal/usecase/discovery"
	"github.com/prtl/prtl/internal/usecase/gateway"
	"github.com/prtl/prtl/internal/usecase/refresh"
	"github.com/prtl/prtl/internal/usecase/registry"
	"github.com/prtl/prtl/pkg/version"
)

// cacheBackend is the store behind the response cache plus what the rest of
// the gateway needs from it.
type cacheBackend struct {
	store  out.CacheStore
	client redis.UniversalClient
	ping   admin.CheckFunc
	close  func() error
}

// gatewayStack is a fully wired gateway that has not started serving yet.
type gatewayStack struct {
	registry *registry.Service
	listener *discovery.Listener
	router   *gateway.Service
	ingress  *proxy.Handler
	handler  http.Handler
	admin    *admin.Handler
	refresh  *refresh.Service
	cfg      Config
}

// RunGateway starts the gateway: NATS bus, configured cache store, ingress,
// admin listener, registration listener and cache refresh loop.
func RunGateway(ctx context.Context, opts Options) error {
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

	ctx = zerowrap.WithCtx(ctx, log)
	log.Info().
		Str(zerowrap.FieldLayer, "app").
		Str(zerowrap.FieldComponent, "gateway").
		Str("version", version.Version()).
		Msg("starting gateway")

	provider, shutdownTelemetry, err := telemetry.NewProvider(ctx, cfg.Telemetry, "prtl-gateway", version.Version())
	if err != nil {
		return log.WrapErr(err, "failed to initialize telemetry")
	}
	defer shutdownTelemetry(context.Background())

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return log.WrapErr(err, "failed to create metrics")
	}

	busCfg := cfg.Bus.Config
	if busCfg.Name == "" {
		busCfg.Name = "prtl-gateway"
	}
	bus, err := natsbus.Connect(busCfg, log)
	if err != nil {
		return log.WrapErr(err, "failed to connect to bus")
	}
	defer bus.Close()

	backend, err := createCacheBackend(ctx, cfg, log)
	if err != nil {
		return log.WrapErr(err, "failed to create cache store")
	}
	defer backend.close()

	checks := map[string]admin.CheckFunc{"bus": bus.Flush}
	if backend.ping != nil {
		checks["cache"] = backend.ping
	}

	stack, err := newGatewayStack(cfg, bus, backend, provider.Handler(), checks, metrics, log)
	if err != nil {
		return err
	}

	return runUntilSignal(ctx, stack.serve)
}

// createCacheBackend opens the configured response cache store.
func createCacheBackend(ctx context.Context, cfg Config, log zerowrap.Logger) (*cacheBackend, error) {
	switch cfg.Cache.Backend {
	case CacheBackendMemory:
		return &cacheBackend{
			store: memstore.New(cfg.Cache.CleanupInterval),
			close: func() error { return nil },
		}, nil
	case CacheBackendRedis:
		store, err := redisstore.New(ctx, cfg.Cache.Redis, log)
		if err != nil {
			return nil, err
		}
		return &cacheBackend{
			store:  store,
			client: store.Client(),
			ping:   store.Ping,
			close:  store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// newGatewayStack wires every gateway component over bus and the cache backend.
func newGatewayStack(
	cfg Config,
	bus out.Bus,
	backend *cacheBackend,
	metricsHandler http.Handler,
	checks map[string]admin.CheckFunc,
	metrics *telemetry.Metrics,
	log zerowrap.Logger,
) (*gatewayStack, error) {
	subjects := cfg.Subjects()
	codec := msgpack.NewCodec()

	reg := registry.NewService(log)
	reg.SetMetrics(metrics)

	responses := cache.NewService(backend.store, codec)
	responses.SetMetrics(metrics)

	router := gateway.NewService(reg, responses, bus, codec, subjects)
	router.SetMetrics(metrics)

	listener := discovery.NewListener(bus, codec, reg, subjects, log)
	listener.SetMetrics(metrics)
	listener.RebroadcastInterval = cfg.Discovery.RebroadcastInterval

	refresher := refresh.NewService(backend.store, cfg.Refresh)
	refresher.SetMetrics(metrics)

	ingress := proxy.NewHandler(router, cfg.Server.Port, log)

	trusted := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	global, perIP, err := createRateLimiters(cfg, backend.client, log)
	if err != nil {
		return nil, log.WrapErr(err, "failed to create rate limiters")
	}

	handler := middleware.Chain(
		middleware.PanicRecovery(log),
		middleware.RequestLogger(log, trusted),
		middleware.Metrics(metrics),
		middleware.RateLimit(global, perIP, trusted, metrics, log),
	)(ingress)

	return &gatewayStack{
		registry: reg,
		listener: listener,
		router:   router,
		ingress:  ingress,
		handler:  handler,
		admin:    admin.NewHandler(reg, metricsHandler, checks, cfg.Server.AdminPort, log),
		refresh:  refresher,
		cfg:      cfg,
	}, nil
}

// createRateLimiters returns nil limiters when rate limiting is disabled.
func createRateLimiters(cfg Config, client redis.UniversalClient, log zerowrap.Logger) (out.RateLimiter, out.RateLimiter, error) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil, nil, nil
	}

	global, err := ratelimit.NewStore(rl.Backend, rl.GlobalRPS, rl.GlobalBurst, rl.IdleTTL, client, log)
	if err != nil {
		return nil, nil, err
	}
	perIP, err := ratelimit.NewStore(rl.Backend, rl.PerIPRPS, rl.PerIPBurst, rl.IdleTTL, client, log)
	if err != nil {
		return nil, nil, err
	}
	return global, perIP, nil
}

// serve runs every gateway component until ctx is done or one of them fails.
func (s *gatewayStack) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.listener.Run(ctx) })
	g.Go(func() error { return s.ingress.Start(ctx, s.handler) })
	g.Go(func() error { return s.admin.Start(ctx) })
	if s.cfg.Refresh.Enabled {
		g.Go(func() error { return s.refresh.Run(ctx) })
	}

	return g.Wait()
}
