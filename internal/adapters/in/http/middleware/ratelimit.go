package middleware

import (
	"net/http"
	"net/netip"

	"github.com/bnema/zerowrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/boundaries/out"
)

// RateLimit rejects requests over the global or per-client limit with 429.
// A nil limiter disables that check.
func RateLimit(global, perIP out.RateLimiter, trusted []netip.Prefix, m *telemetry.Metrics, log zerowrap.Logger) func(http.Handler) http.Handler {
	if global == nil && perIP == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if global != nil && !global.Allow(ctx, "global") {
				reject(w, r, "global", m, log)
				return
			}

			if perIP != nil {
				ip := GetClientIP(r, trusted)
				if !perIP.Allow(ctx, "ip:"+ip) {
					reject(w, r, "ip", m, log)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, scope string, m *telemetry.Metrics, log zerowrap.Logger) {
	if m != nil {
		m.IngressRejected.Add(r.Context(), 1, metric.WithAttributes(attribute.String("scope", scope)))
	}
	log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "http").
		Str("scope", scope).
		Str(zerowrap.FieldPath, r.URL.Path).
		Msg("request rate limited")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(http.StatusText(http.StatusTooManyRequests)))
}
