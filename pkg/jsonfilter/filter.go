// Package jsonfilter removes or keeps top-level fields of a JSON object.
package jsonfilter

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Mode selects how Filter.Fields is applied.
type Mode int

const (
	// Deny drops the listed fields and keeps everything else.
	Deny Mode = iota
	// Allow keeps only the listed fields.
	Allow
)

// Filter is a top-level field filter.
type Filter struct {
	Mode   Mode
	Fields []string
}

// DenyFields returns a filter dropping fields.
func DenyFields(fields ...string) Filter {
	return Filter{Mode: Deny, Fields: fields}
}

// AllowFields returns a filter keeping only fields.
func AllowFields(fields ...string) Filter {
	return Filter{Mode: Allow, Fields: fields}
}

// Apply filters the top-level fields of body. Valid JSON that is not an
// object is returned unchanged. Nested values are copied verbatim.
func (f Filter) Apply(body []byte) ([]byte, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if !json.Valid(body) {
			return nil, fmt.Errorf("jsonfilter: invalid JSON")
		}
		return append([]byte(nil), body...), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("jsonfilter: %w", err)
	}

	switch f.Mode {
	case Allow:
		keep := make(map[string]struct{}, len(f.Fields))
		for _, name := range f.Fields {
			keep[name] = struct{}{}
		}
		for name := range obj {
			if _, ok := keep[name]; !ok {
				delete(obj, name)
			}
		}
	default:
		for _, name := range f.Fields {
			delete(obj, name)
		}
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("jsonfilter: %w", err)
	}
	return out, nil
}
