package domain

import "strings"

// Header is one entry of an ordered header list. Repeated names are kept as
// separate entries.
type Header struct {
	Name  string `msgpack:"name"`
	Value string `msgpack:"value"`
}

// hopHeaders are never forwarded to workers nor returned to callers.
var hopHeaders = []string{"host", "connection"}

// IsHopHeader reports whether name is a hop-specific header.
func IsHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// StripHopHeaders returns headers without hop-specific entries, preserving order.
func StripHopHeaders(headers []Header) []Header {
	out := make([]Header, 0, len(headers))
	for _, h := range headers {
		if IsHopHeader(h.Name) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// HeaderValue returns the first value for name, compared case-insensitively.
func HeaderValue(headers []Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}
