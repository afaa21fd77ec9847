package in

import (
	"context"

	"github.com/prtl/prtl/internal/domain"
)

// ProxyWorker is the capability a per-domain worker implements. Each domain's
// fetch logic lives behind this interface in its own process.
type ProxyWorker interface {
	// Descriptor returns what the worker announces to the gateway.
	Descriptor() domain.ProxyDescriptor

	// Handle performs the upstream fetch. A returned error is turned into a
	// server-error response by the worker runtime.
	Handle(ctx context.Context, req *domain.ProxyRequest) (*domain.ProxyResponse, error)
}
