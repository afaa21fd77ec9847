package domain

import (
	"strings"
	"time"
)

// HashPolicy selects which request facets feed the cache-key hash.
type HashPolicy uint8

const (
	HashURL     HashPolicy = 1 << 0
	HashQuery   HashPolicy = 1 << 1
	HashHeaders HashPolicy = 1 << 2
)

// DefaultCacheTTL is applied when a descriptor does not set CacheTTL.
const DefaultCacheTTL = time.Hour

// Has reports whether every bit of c is set in p.
func (p HashPolicy) Has(c HashPolicy) bool {
	return p&c == c
}

// String renders the policy as "URL|QUERY|HEADERS".
func (p HashPolicy) String() string {
	var parts []string
	if p.Has(HashURL) {
		parts = append(parts, "URL")
	}
	if p.Has(HashQuery) {
		parts = append(parts, "QUERY")
	}
	if p.Has(HashHeaders) {
		parts = append(parts, "HEADERS")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// ProxyDescriptor is what a worker publishes about itself: the domains it
// serves and how its responses are cached.
type ProxyDescriptor struct {
	ServiceName string        `msgpack:"service_name" json:"service_name"`
	BaseDomains []string      `msgpack:"base_domains" json:"base_domains"`
	HashPolicy  HashPolicy    `msgpack:"hash_policy" json:"hash_policy"`
	CacheTTL    time.Duration `msgpack:"cache_ttl,omitempty" json:"cache_ttl,omitempty"`
}

// EffectiveTTL returns CacheTTL, or DefaultCacheTTL when unset.
func (d ProxyDescriptor) EffectiveTTL() time.Duration {
	if d.CacheTTL <= 0 {
		return DefaultCacheTTL
	}
	return d.CacheTTL
}

// Serves reports whether host equals one of the base domains or is a proper
// subdomain of one.
func (d ProxyDescriptor) Serves(host string) bool {
	for _, base := range d.BaseDomains {
		if base == "" {
			continue
		}
		if host == base || strings.HasSuffix(host, "."+base) {
			return true
		}
	}
	return false
}

// Validate checks the minimum a registry needs to route to a descriptor. The
// service name becomes one bus subject token.
func (d ProxyDescriptor) Validate() error {
	if !IsSubjectToken(d.ServiceName) {
		return ErrInvalidDescriptor
	}
	for _, base := range d.BaseDomains {
		if base != "" {
			return nil
		}
	}
	return ErrInvalidDescriptor
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (d ProxyDescriptor) Clone() ProxyDescriptor {
	d.BaseDomains = append([]string(nil), d.BaseDomains...)
	return d
}
