package domain

import "errors"

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Client errors
	ErrInvalidPath = errors.New("invalid path")
	ErrInvalidURL  = errors.New("invalid url")

	// Routing errors
	ErrNoProxyAvailable  = errors.New("no proxy available for this domain")
	ErrInvalidDescriptor = errors.New("invalid proxy descriptor")

	// Transport errors
	ErrTransport  = errors.New("transport error")
	ErrBusClosed  = errors.New("bus is closed")
	ErrNoReply    = errors.New("no reply received")
	ErrCacheStore = errors.New("cache store error")

	// Serialization errors
	ErrSerialization   = errors.New("serialization error")
	ErrUnknownEnvelope = errors.New("unknown envelope kind")
	ErrUnexpectedReply = errors.New("unexpected reply envelope")
	ErrHandlerFailed   = errors.New("worker handler failed")
)
