package worker

import (
	"context"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/in"
	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
	"github.com/prtl/prtl/internal/usecase/discovery"
)

const drainTimeout = 30 * time.Second

// Serve runs w until ctx is done: it starts answering RPCs, announces the
// descriptor and re-announces on every discovery broadcast. The logger is
// taken from ctx; metrics go to the global meter provider.
func Serve(ctx context.Context, bus out.Bus, codec out.EnvelopeCodec, w in.ProxyWorker, subjects domain.Subjects) error {
	log := zerowrap.FromCtx(ctx)

	srv := NewServer(bus, codec, w, subjects, log)
	if metrics, err := telemetry.NewMetrics(); err == nil {
		srv.SetMetrics(metrics)
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	announcer := discovery.NewAnnouncer(bus, codec, w.Descriptor(), subjects, log)
	if err := announcer.Start(ctx); err != nil {
		_ = srv.Stop(context.Background())
		return err
	}

	<-ctx.Done()

	log.Info().Str(zerowrap.FieldService, w.Descriptor().ServiceName).Msg("worker shutting down")

	_ = announcer.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return srv.Stop(drainCtx)
}
