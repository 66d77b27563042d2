package handlers

import (
	"net/http"
	"time"

	"github.com/xdignya776/shoptrae/internal/catalog"
	"github.com/xdignya776/shoptrae/internal/platform/httpx"
)

// CatalogStatus reports whether the product snapshot is ready.
type CatalogStatus interface {
	Loaded() bool
	Source() catalog.Source
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	catalog     CatalogStatus
	environment string
	startedAt   time.Time
	now         func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs probe handlers. Without a catalog, readiness always passes.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.startedAt.IsZero() {
		h.startedAt = h.now()
	}
	return h
}

// WithHealthCatalog makes readiness depend on the catalog snapshot.
func WithHealthCatalog(c CatalogStatus) HealthOption {
	return func(h *HealthHandlers) { h.catalog = c }
}

// WithHealthEnvironment sets the environment name reported by the probes.
func WithHealthEnvironment(env string) HealthOption {
	return func(h *HealthHandlers) { h.environment = env }
}

// WithHealthClock overrides the clock used to compute uptime.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithHealthStartedAt overrides the process start time.
func WithHealthStartedAt(t time.Time) HealthOption {
	return func(h *HealthHandlers) { h.startedAt = t }
}

// Healthz reports liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": h.environment,
		"uptime":      now.Sub(h.startedAt).Round(time.Second).String(),
		"timestamp":   now.UTC().Format(time.RFC3339),
	})
}

// Readyz reports readiness and where the catalog came from.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if h.catalog != nil {
		if !h.catalog.Loaded() {
			httpx.WriteError(r.Context(), w, httpx.NewError("catalog_not_ready", "catalog has not been loaded", http.StatusServiceUnavailable))
			return
		}
		payload["catalogSource"] = string(h.catalog.Source())
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}
