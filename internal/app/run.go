package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/bnema/zerowrap"
)

// runUntilSignal runs fn until it returns or SIGINT/SIGTERM cancels its
// context. A clean shutdown returns nil.
func runUntilSignal(ctx context.Context, fn func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zerowrap.FromCtx(ctx)

	err := fn(ctx)
	if ctx.Err() != nil {
		log.Info().
			Str(zerowrap.FieldLayer, "app").
			Msg("shutdown complete")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
