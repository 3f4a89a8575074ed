package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loreweave/loreweave/domain/relationships"
	"github.com/loreweave/loreweave/domain/semantic"
	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/internal/version"
)

const probeTimeout = 5 * time.Second

// Handler serves the operational endpoints.
type Handler struct {
	store    store.Store
	semantic *semantic.Service
	relCache *relationships.Cache
	cfg      *config.Config
	startAt  time.Time
}

// NewHandler creates the operational handler.
func NewHandler(st store.Store, sem *semantic.Service, relCache *relationships.Cache, cfg *config.Config) *Handler {
	return &Handler{
		store:    st,
		semantic: sem,
		relCache: relCache,
		cfg:      cfg,
		startAt:  time.Now(),
	}
}

// RegisterRoutes mounts the operational endpoints on the echo app.
func RegisterRoutes(e *echo.Echo, st store.Store, sem *semantic.Service, relCache *relationships.Cache, cfg *config.Config) {
	h := NewHandler(st, sem, relCache, cfg)

	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)
	e.GET("/stats", h.Stats)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Check is one component's health result.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Backend   string           `json:"store_backend"`
	Checks    map[string]Check `json:"checks"`
}

// Health reports overall service health, probing the node store.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	storeCheck := Check{Status: "healthy"}
	if err := h.probeStore(ctx); err != nil {
		storeCheck = Check{Status: "unhealthy", Message: err.Error()}
	}

	overall := "healthy"
	statusCode := http.StatusOK
	if storeCheck.Status != "healthy" {
		overall = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Backend:   h.cfg.Store.Backend,
		Checks: map[string]Check{
			"store": storeCheck,
		},
	})
}

// Ready reports readiness for traffic.
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	if err := h.probeStore(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "node store unreachable",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ready"})
}

// Stats reports derived-index statistics.
func (h *Handler) Stats(c echo.Context) error {
	payload := map[string]any{
		"indexer": h.semantic.Indexer().Stats(),
	}
	if age, ok := h.relCache.Age(); ok {
		payload["relationship_cache_age"] = age.String()
	}
	return c.JSON(http.StatusOK, payload)
}

// probeStore runs a minimal read against the backend.
func (h *Handler) probeStore(ctx context.Context) error {
	_, err := h.store.GetNode(ctx, "health-probe")
	return err
}
