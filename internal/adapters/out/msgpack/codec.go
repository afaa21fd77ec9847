// Package msgpack implements the bus envelope and cache entry codecs on top of
// MessagePack.
package msgpack

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
)

var (
	_ out.EnvelopeCodec = (*Codec)(nil)
	_ out.EntryCodec    = (*Codec)(nil)
)

// Codec encodes envelopes as a self-describing {kind, payload} map and cache
// entries as a positional (status, headers, body) tuple.
type Codec struct{}

// NewCodec creates a new MessagePack codec.
func NewCodec() *Codec {
	return &Codec{}
}

type wireEnvelope struct {
	Kind    domain.EnvelopeKind `msgpack:"kind"`
	Payload msgpack.RawMessage  `msgpack:"payload,omitempty"`
}

type wireHeader struct {
	_msgpack struct{} `msgpack:",as_array"`
	Name     string
	Value    string
}

type wireEntry struct {
	_msgpack struct{} `msgpack:",as_array"`
	Status   uint16
	Headers  []wireHeader
	Body     []byte
}

// EncodeEnvelope serializes env.
func (c *Codec) EncodeEnvelope(env domain.Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", domain.ErrSerialization)
	}

	var payload any
	switch e := env.(type) {
	case domain.Discovery, *domain.Discovery:
	case domain.RegisterParser, domain.RegisterParserReply, domain.ProxyRequest, domain.ProxyResponse:
		payload = e
	case *domain.RegisterParser:
		payload = *e
	case *domain.RegisterParserReply:
		payload = *e
	case *domain.ProxyRequest:
		payload = *e
	case *domain.ProxyResponse:
		payload = *e
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownEnvelope, env)
	}

	w := wireEnvelope{Kind: env.Kind()}
	if payload != nil {
		raw, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
		}
		w.Payload = raw
	}

	data, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}
	return data, nil
}

// DecodeEnvelope parses data into one of the envelope variants.
func (c *Codec) DecodeEnvelope(data []byte) (domain.Envelope, error) {
	var w wireEnvelope
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}

	switch w.Kind {
	case domain.KindDiscovery:
		return domain.Discovery{}, nil
	case domain.KindRegisterParser:
		var v domain.RegisterParser
		return decodePayload(w, &v)
	case domain.KindRegisterParserReply:
		var v domain.RegisterParserReply
		return decodePayload(w, &v)
	case domain.KindProxyRequest:
		var v domain.ProxyRequest
		return decodePayload(w, &v)
	case domain.KindProxyResponse:
		var v domain.ProxyResponse
		return decodePayload(w, &v)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEnvelope, w.Kind)
	}
}

func decodePayload[T domain.Envelope](w wireEnvelope, v *T) (domain.Envelope, error) {
	if len(w.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s without payload", domain.ErrSerialization, w.Kind)
	}
	if err := msgpack.Unmarshal(w.Payload, v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSerialization, w.Kind, err)
	}
	return *v, nil
}

// EncodeEntry serializes a cache entry.
func (c *Codec) EncodeEntry(entry domain.CachedResponse) ([]byte, error) {
	w := wireEntry{
		Status:  entry.Status,
		Headers: make([]wireHeader, 0, len(entry.Headers)),
		Body:    entry.Body,
	}
	for _, h := range entry.Headers {
		w.Headers = append(w.Headers, wireHeader{Name: h.Name, Value: h.Value})
	}

	data, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}
	return data, nil
}

// DecodeEntry parses a cache entry.
func (c *Codec) DecodeEntry(data []byte) (domain.CachedResponse, error) {
	var w wireEntry
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return domain.CachedResponse{}, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}

	entry := domain.CachedResponse{
		Status:  w.Status,
		Headers: make([]domain.Header, 0, len(w.Headers)),
		Body:    w.Body,
	}
	for _, h := range w.Headers {
		entry.Headers = append(entry.Headers, domain.Header{Name: h.Name, Value: h.Value})
	}
	return entry, nil
}
