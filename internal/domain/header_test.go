package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHopHeaders(t *testing.T) {
	in := []Header{
		{Name: "Host", Value: "gateway.local"},
		{Name: "accept", Value: "application/json"},
		{Name: "CONNECTION", Value: "keep-alive"},
		{Name: "x-trace", Value: "1"},
		{Name: "x-trace", Value: "2"},
	}

	got := StripHopHeaders(in)

	assert.Equal(t, []Header{
		{Name: "accept", Value: "application/json"},
		{Name: "x-trace", Value: "1"},
		{Name: "x-trace", Value: "2"},
	}, got)
	assert.Len(t, in, 5, "input must not be modified")
}

func TestHeaderValue(t *testing.T) {
	headers := []Header{
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "x-trace", Value: "1"},
		{Name: "X-Trace", Value: "2"},
	}

	v, ok := HeaderValue(headers, "content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)

	v, ok = HeaderValue(headers, "X-TRACE")
	assert.True(t, ok)
	assert.Equal(t, "1", v, "first entry wins")

	_, ok = HeaderValue(headers, "accept")
	assert.False(t, ok)
}

func TestProxyResponse_IsSuccess(t *testing.T) {
	assert.True(t, ProxyResponse{Status: 200}.IsSuccess())
	assert.True(t, ProxyResponse{Status: 204}.IsSuccess())
	assert.False(t, ProxyResponse{Status: 304}.IsSuccess())
	assert.False(t, ProxyResponse{Status: 500}.IsSuccess())
	assert.False(t, ProxyResponse{Status: 199}.IsSuccess())
}
