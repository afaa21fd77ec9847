package gateway

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/prtl/prtl/internal/domain"
)

// Target is the upstream resource named by an ingress path.
type Target struct {
	// Host is the lower-cased destination hostname, without port.
	Host string
	URL  *url.URL
}

// ParseTarget splits an ingress path of the form /<domain>/<rest> into the
// upstream URL https://<domain>/<rest>[?query]. Any number of leading slashes
// is accepted. The query is passed verbatim.
func ParseTarget(path, rawQuery string) (Target, error) {
	trimmed := strings.TrimLeft(path, "/")
	host, rest, _ := strings.Cut(trimmed, "/")
	if host == "" {
		return Target{}, domain.ErrInvalidPath
	}

	raw := "https://" + host + "/" + rest
	if rawQuery != "" {
		raw += "?" + rawQuery
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("%w: empty host in %q", domain.ErrInvalidURL, raw)
	}
	u.Host = strings.ToLower(u.Host)

	return Target{Host: u.Hostname(), URL: u}, nil
}
