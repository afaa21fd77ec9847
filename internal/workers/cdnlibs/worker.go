// Package cdnlibs is the proxy worker for api.cdnlibs.org.
package cdnlibs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/klauspost/compress/gzip"

	"github.com/prtl/prtl/internal/boundaries/in"
	"github.com/prtl/prtl/internal/domain"
	"github.com/prtl/prtl/pkg/jsonfilter"
)

// Ensure Worker implements in.ProxyWorker.
var _ in.ProxyWorker = (*Worker)(nil)

const (
	// ServiceName is the registry key of this worker.
	ServiceName = "cdnlibs"
	// BaseDomain is the upstream API host.
	BaseDomain = "api.cdnlibs.org"

	allowedPrefix    = "/api/anime/"
	maxUpstreamBody  = 32 << 20
	throttleRetry    = "60"
	defaultTimeout   = 30 * time.Second
	headerLimit      = "x-ratelimit-limit"
	headerRemaining  = "x-ratelimit-remaining"
	rateLimitMessage = "Rate limit exceeded"
)

var errBodyTooLarge = errors.New("body too large")

// rateState is the last upstream rate-limit report.
type rateState struct {
	known     bool
	limit     uint64
	remaining uint64
}

// Worker fetches from the cdnlibs API and strips response metadata.
type Worker struct {
	client *http.Client
	filter jsonfilter.Filter

	mu   sync.RWMutex
	rate rateState
}

// New creates the worker. A nil client gets a pooled go-cleanhttp client.
func New(client *http.Client) *Worker {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = defaultTimeout
	}
	return &Worker{
		client: client,
		filter: jsonfilter.DenyFields("meta"),
	}
}

// Descriptor implements in.ProxyWorker.
func (w *Worker) Descriptor() domain.ProxyDescriptor {
	return domain.ProxyDescriptor{
		ServiceName: ServiceName,
		BaseDomains: []string{BaseDomain},
		HashPolicy:  domain.HashURL | domain.HashQuery,
		CacheTTL:    time.Hour,
	}
}

// Handle implements in.ProxyWorker.
func (w *Worker) Handle(ctx context.Context, req *domain.ProxyRequest) (*domain.ProxyResponse, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "worker",
		zerowrap.FieldService: ServiceName,
		zerowrap.FieldMethod:  req.Method,
	})
	log := zerowrap.FromCtx(ctx)

	target, err := url.Parse(req.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if !strings.HasPrefix(target.RequestURI(), allowedPrefix) {
		log.Debug().Str(zerowrap.FieldPath, target.Path).Msg("path not allowed")
		return &domain.ProxyResponse{Status: http.StatusForbidden}, nil
	}

	if w.throttled() {
		log.Warn().Msg("upstream rate limit exhausted, rejecting locally")
		return &domain.ProxyResponse{
			Status: http.StatusTooManyRequests,
			Headers: []domain.Header{
				{Name: "retry-after", Value: throttleRetry},
			},
			Body: []byte(rateLimitMessage),
		}, nil
	}

	upstream, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for _, h := range req.Headers {
		upstream.Header.Add(h.Name, h.Value)
	}

	resp, err := w.client.Do(upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, maxUpstreamBody)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	w.trackRateLimit(ctx, resp.Header)

	headers := responseHeaders(resp.Header)
	filtered, changed := w.filterBody(ctx, resp.Header, body)
	if changed {
		headers = withoutHeader(headers, "content-length")
	}

	return &domain.ProxyResponse{
		Status:  uint16(resp.StatusCode),
		Headers: headers,
		Body:    filtered,
	}, nil
}

func (w *Worker) throttled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rate.known && w.rate.remaining == 0
}

// trackRateLimit records the upstream quota when both headers parse.
func (w *Worker) trackRateLimit(ctx context.Context, h http.Header) {
	limit, err := strconv.ParseUint(h.Get(headerLimit), 10, 64)
	if err != nil {
		return
	}
	remaining, err := strconv.ParseUint(h.Get(headerRemaining), 10, 64)
	if err != nil {
		return
	}

	w.mu.Lock()
	w.rate = rateState{known: true, limit: limit, remaining: remaining}
	w.mu.Unlock()

	log := zerowrap.FromCtx(ctx)
	log.Debug().Uint64("limit", limit).Uint64("remaining", remaining).Msg("rate limit updated")
}

// filterBody drops the "meta" field from JSON bodies, decompressing and
// recompressing gzip payloads. Any failure returns the original body.
func (w *Worker) filterBody(ctx context.Context, h http.Header, body []byte) ([]byte, bool) {
	if len(body) == 0 || !strings.Contains(h.Get("Content-Type"), "application/json") {
		return body, false
	}
	log := zerowrap.FromCtx(ctx)
	gzipped := strings.Contains(h.Get("Content-Encoding"), "gzip")

	plain := body
	if gzipped {
		var err error
		if plain, err = gunzip(body); err != nil {
			log.Warn().Err(err).Msg("failed to decompress response, returning original")
			return body, false
		}
	}
	if len(bytes.TrimSpace(plain)) == 0 {
		return body, false
	}

	filtered, err := w.filter.Apply(plain)
	if err != nil {
		log.Warn().Err(err).Int(zerowrap.FieldSize, len(plain)).Msg("failed to filter response, returning original")
		return body, false
	}

	if !gzipped {
		return filtered, true
	}
	compressed, err := gzipBytes(filtered)
	if err != nil {
		log.Warn().Err(err).Msg("failed to recompress response, returning original")
		return body, false
	}
	return compressed, true
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readLimited(zr, maxUpstreamBody)
}

// readLimited reads r to the end, failing with errBodyTooLarge past limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", errBodyTooLarge, limit)
	}
	return b, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// responseHeaders flattens h into a list sorted by name, names lower-cased.
func responseHeaders(h http.Header) []domain.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]domain.Header, 0, len(names))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, domain.Header{Name: strings.ToLower(name), Value: v})
		}
	}
	return out
}

func withoutHeader(headers []domain.Header, name string) []domain.Header {
	out := headers[:0]
	for _, h := range headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	return out
}
