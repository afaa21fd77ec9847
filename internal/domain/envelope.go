package domain

// EnvelopeKind tags each variant of the bus envelope.
type EnvelopeKind string

const (
	KindDiscovery           EnvelopeKind = "Discovery"
	KindRegisterParser      EnvelopeKind = "RegisterParser"
	KindRegisterParserReply EnvelopeKind = "RegisterParserReply"
	KindProxyRequest        EnvelopeKind = "ProxyRequest"
	KindProxyResponse       EnvelopeKind = "ProxyResponse"
)

// Envelope is the message exchanged over the bus. The set of variants is closed:
// only the types in this file implement it.
type Envelope interface {
	Kind() EnvelopeKind
	sealed()
}

// Discovery asks every live worker to re-announce its descriptor.
type Discovery struct{}

// RegisterParser announces a worker descriptor to the gateway.
type RegisterParser struct {
	Descriptor ProxyDescriptor `msgpack:"descriptor"`
}

// RegisterParserReply acknowledges a registration.
type RegisterParserReply struct {
	Accepted bool   `msgpack:"accepted"`
	Reason   string `msgpack:"reason,omitempty"`
}

// ProxyRequest is a complete HTTP request snapshot sent to a worker.
type ProxyRequest struct {
	Method  string   `msgpack:"method"`
	URI     string   `msgpack:"uri"`
	Headers []Header `msgpack:"headers"`
	Body    []byte   `msgpack:"body"`
}

// ProxyResponse is a complete HTTP response snapshot returned by a worker.
type ProxyResponse struct {
	Status  uint16   `msgpack:"status"`
	Headers []Header `msgpack:"headers"`
	Body    []byte   `msgpack:"body"`
}

func (Discovery) Kind() EnvelopeKind           { return KindDiscovery }
func (RegisterParser) Kind() EnvelopeKind      { return KindRegisterParser }
func (RegisterParserReply) Kind() EnvelopeKind { return KindRegisterParserReply }
func (ProxyRequest) Kind() EnvelopeKind        { return KindProxyRequest }
func (ProxyResponse) Kind() EnvelopeKind       { return KindProxyResponse }

func (Discovery) sealed()           {}
func (RegisterParser) sealed()      {}
func (RegisterParserReply) sealed() {}
func (ProxyRequest) sealed()        {}
func (ProxyResponse) sealed()       {}

// IsSuccess reports a 2xx status.
func (r ProxyResponse) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

// CachedResponse is the value stored per cache key.
type CachedResponse struct {
	Status  uint16
	Headers []Header
	Body    []byte
}

// ToResponse converts a cached entry back to a response envelope.
func (c CachedResponse) ToResponse() *ProxyResponse {
	return &ProxyResponse{Status: c.Status, Headers: c.Headers, Body: c.Body}
}
