// Package cachekey derives the deterministic digest that identifies a cached
// response for one service.
package cachekey

import (
	"encoding/hex"
	"sort"

	"lukechampine.com/blake3"

	"github.com/prtl/prtl/internal/domain"
)

// Prefix namespaces every response-cache key in the store.
const Prefix = "proxy:"

// Request is the slice of an outbound request the digest may observe.
// Method and body are deliberately absent.
type Request struct {
	Path     string
	RawQuery string
	Headers  []domain.Header
}

// Derive hashes the components selected by policy into a lowercase hex
// BLAKE3 digest. Header order does not matter; duplicate names keep their
// relative order.
func Derive(req Request, policy domain.HashPolicy) string {
	h := blake3.New(32, nil)

	if policy.Has(domain.HashURL) {
		_, _ = h.Write([]byte(req.Path))
	}
	if policy.Has(domain.HashQuery) && req.RawQuery != "" {
		_, _ = h.Write([]byte(req.RawQuery))
	}
	if policy.Has(domain.HashHeaders) {
		headers := append([]domain.Header(nil), req.Headers...)
		sort.SliceStable(headers, func(i, j int) bool {
			return headers[i].Name < headers[j].Name
		})
		for _, hd := range headers {
			_, _ = h.Write([]byte(hd.Name + ":" + hd.Value + "\n"))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Key builds the store key for a service's digest.
func Key(service, digest string) string {
	return Prefix + service + ":" + digest
}
