// Package admin implements the admin HTTP listener: health, registered
// services and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4"

	"github.com/prtl/prtl/internal/boundaries/in"
)

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) error

// Handler serves the admin API.
type Handler struct {
	registry in.ProxyRegistry
	metrics  http.Handler
	checks   map[string]CheckFunc
	log      zerowrap.Logger
	port     int
}

type serviceResponse struct {
	ServiceName string   `json:"service_name"`
	BaseDomains []string `json:"base_domains"`
	HashPolicy  string   `json:"hash_policy"`
	CacheTTL    int64    `json:"cache_ttl_seconds"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewHandler creates a new admin handler. metrics may be nil when the
// Prometheus exporter is disabled.
func NewHandler(registry in.ProxyRegistry, metrics http.Handler, checks map[string]CheckFunc, port int, log zerowrap.Logger) *Handler {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Handler{
		registry: registry,
		metrics:  metrics,
		checks:   checks,
		port:     port,
		log:      log,
	}
}

// Echo builds the admin router.
func (h *Handler) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", h.handleHealth)
	e.GET("/services", h.handleServices)
	e.GET("/metrics", echo.WrapHandler(h.metrics))

	return e
}

func (h *Handler) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			h.log.Warn().
				Str(zerowrap.FieldLayer, "adapter").
				Str(zerowrap.FieldAdapter, "admin").
				Str("check", name).
				Err(err).
				Msg("health check failed")
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

func (h *Handler) handleServices(c echo.Context) error {
	services := h.registry.Services()

	resp := make([]serviceResponse, 0, len(services))
	for _, d := range services {
		resp = append(resp, serviceResponse{
			ServiceName: d.ServiceName,
			BaseDomains: d.BaseDomains,
			HashPolicy:  d.HashPolicy.String(),
			CacheTTL:    int64(d.EffectiveTTL() / time.Second),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// Start serves the admin API until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	e := h.Echo()
	addr := ":" + strconv.Itoa(h.port)

	h.log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "admin").
		Str("address", addr).
		Msg("admin listener starting")

	errChan := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
