package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prtl/prtl/internal/domain"
)

func TestDerive_Deterministic(t *testing.T) {
	req := Request{Path: "/api/anime/1", RawQuery: "a=1", Headers: []domain.Header{{Name: "accept", Value: "json"}}}
	all := domain.HashURL | domain.HashQuery | domain.HashHeaders

	first := Derive(req, all)
	assert.Equal(t, first, Derive(req, all))
	assert.Len(t, first, 64)
	assert.Regexp(t, "^[0-9a-f]+$", first)
}

func TestDerive_IgnoresExcludedComponents(t *testing.T) {
	base := Request{Path: "/api/anime/1", RawQuery: "page=1", Headers: []domain.Header{{Name: "accept", Value: "json"}}}

	tests := []struct {
		name   string
		policy domain.HashPolicy
		other  Request
	}{
		{
			name:   "query excluded",
			policy: domain.HashURL,
			other:  Request{Path: base.Path, RawQuery: "page=2", Headers: base.Headers},
		},
		{
			name:   "headers excluded",
			policy: domain.HashURL | domain.HashQuery,
			other:  Request{Path: base.Path, RawQuery: base.RawQuery, Headers: []domain.Header{{Name: "accept", Value: "xml"}}},
		},
		{
			name:   "path excluded",
			policy: domain.HashQuery,
			other:  Request{Path: "/other", RawQuery: base.RawQuery},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Derive(base, tt.policy), Derive(tt.other, tt.policy))
		})
	}
}

func TestDerive_IncludedComponentsChangeDigest(t *testing.T) {
	policy := domain.HashURL | domain.HashQuery | domain.HashHeaders
	base := Request{Path: "/a", RawQuery: "x=1", Headers: []domain.Header{{Name: "accept", Value: "json"}}}

	assert.NotEqual(t, Derive(base, policy), Derive(Request{Path: "/b", RawQuery: "x=1", Headers: base.Headers}, policy))
	assert.NotEqual(t, Derive(base, policy), Derive(Request{Path: "/a", RawQuery: "x=2", Headers: base.Headers}, policy))
	assert.NotEqual(t, Derive(base, policy), Derive(Request{Path: "/a", RawQuery: "x=1"}, policy))
}

func TestDerive_HeaderOrderIndependent(t *testing.T) {
	policy := domain.HashHeaders
	a := Request{Headers: []domain.Header{{Name: "accept", Value: "json"}, {Name: "x-api", Value: "1"}}}
	b := Request{Headers: []domain.Header{{Name: "x-api", Value: "1"}, {Name: "accept", Value: "json"}}}

	assert.Equal(t, Derive(a, policy), Derive(b, policy))
}

func TestDerive_EmptyPolicyIsConstant(t *testing.T) {
	assert.Equal(t,
		Derive(Request{Path: "/a"}, 0),
		Derive(Request{Path: "/b", RawQuery: "q=1"}, 0),
	)
}

func TestDerive_DoesNotMutateHeaders(t *testing.T) {
	headers := []domain.Header{{Name: "z", Value: "1"}, {Name: "a", Value: "2"}}
	Derive(Request{Headers: headers}, domain.HashHeaders)

	assert.Equal(t, "z", headers[0].Name)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "proxy:cdnlibs:abc123", Key("cdnlibs", "abc123"))
}
