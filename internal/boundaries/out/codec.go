package out

import "github.com/prtl/prtl/internal/domain"

// EnvelopeCodec serializes bus envelopes.
type EnvelopeCodec interface {
	EncodeEnvelope(env domain.Envelope) ([]byte, error)
	// DecodeEnvelope fails with domain.ErrSerialization or
	// domain.ErrUnknownEnvelope on malformed input.
	DecodeEnvelope(data []byte) (domain.Envelope, error)
}

// EntryCodec serializes cache entries.
type EntryCodec interface {
	EncodeEntry(entry domain.CachedResponse) ([]byte, error)
	DecodeEntry(data []byte) (domain.CachedResponse, error)
}
