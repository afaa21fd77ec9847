package in

import (
	"context"

	"github.com/prtl/prtl/internal/domain"
)

// InboundRequest is an ingress request before target parsing.
type InboundRequest struct {
	Method string
	// Path is the raw request path; its first segment is the destination domain.
	Path     string
	RawQuery string
	Headers  []domain.Header
	Body     []byte
}

// GatewayService defines the contract for the gateway request pipeline.
type GatewayService interface {
	// Handle resolves, serves from cache or dispatches one inbound request.
	// Every call yields either a response or exactly one terminal error.
	Handle(ctx context.Context, req InboundRequest) (*domain.ProxyResponse, error)
}
