// Package proxy implements the HTTP ingress of the gateway.
package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/prtl/prtl/internal/boundaries/in"
	"github.com/prtl/prtl/internal/domain"
)

// maxRequestBodySize caps the body forwarded to a worker.
const maxRequestBodySize = 10 << 20

// Handler turns every inbound HTTP request into a gateway call.
type Handler struct {
	gateway in.GatewayService
	log     zerowrap.Logger
	port    int
}

// NewHandler creates a new ingress handler.
func NewHandler(gateway in.GatewayService, port int, log zerowrap.Logger) *Handler {
	return &Handler{
		gateway: gateway,
		port:    port,
		log:     log,
	}
}

// ServeHTTP implements http.Handler. All paths are served.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The caller going away must not abort RPC or cache work already started.
	ctx := context.WithoutCancel(r.Context())
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "http",
		zerowrap.FieldHandler: "ingress",
	})
	log := zerowrap.FromCtx(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeText(w, http.StatusRequestEntityTooLarge, http.StatusText(http.StatusRequestEntityTooLarge))
			return
		}
		log.Warn().Err(err).Msg("failed to read request body")
		writeText(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req := in.InboundRequest{
		Method:   r.Method,
		Path:     r.URL.EscapedPath(),
		RawQuery: r.URL.RawQuery,
		Headers:  requestHeaders(r),
		Body:     body,
	}

	resp, err := h.gateway.Handle(ctx, req)
	if err != nil {
		status, msg := errorResponse(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str(zerowrap.FieldPath, req.Path).Msg("request failed")
		}
		writeText(w, status, msg)
		return
	}

	writeResponse(w, resp)
}

// errorResponse maps a gateway error to its status code and plain-text body.
func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidPath):
		return http.StatusBadRequest, "Invalid path"
	case errors.Is(err, domain.ErrInvalidURL):
		return http.StatusBadRequest, "Invalid URL: " + err.Error()
	case errors.Is(err, domain.ErrNoProxyAvailable):
		return http.StatusServiceUnavailable, "No proxy available for this domain"
	default:
		return http.StatusInternalServerError, "Internal error: " + err.Error()
	}
}

// requestHeaders flattens r's headers, Host included, into an ordered list.
// Repeated values stay separate entries.
func requestHeaders(r *http.Request) []domain.Header {
	headers := make([]domain.Header, 0, len(r.Header)+1)
	if r.Host != "" {
		headers = append(headers, domain.Header{Name: "host", Value: r.Host})
	}
	for name, values := range r.Header {
		for _, v := range values {
			headers = append(headers, domain.Header{Name: strings.ToLower(name), Value: v})
		}
	}
	return headers
}

// writeResponse copies a worker response to w. Content-Length is left to
// net/http so a stale upstream value cannot corrupt the reply.
func writeResponse(w http.ResponseWriter, resp *domain.ProxyResponse) {
	hdr := w.Header()
	for _, h := range resp.Headers {
		if strings.EqualFold(h.Name, "content-length") || domain.IsHopHeader(h.Name) {
			continue
		}
		hdr.Add(h.Name, h.Value)
	}

	status := int(resp.Status)
	if status < 100 || status > 999 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// Start serves handler on the configured port until ctx is cancelled, then
// shuts down gracefully.
func (h *Handler) Start(ctx context.Context, handler http.Handler) error {
	addr := ":" + strconv.Itoa(h.port)

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	h.log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "http").
		Str("address", addr).
		Msg("ingress listening")

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		h.log.Info().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "http").
			Msg("ingress shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	}
}
