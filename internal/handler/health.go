package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler creates a new health handler. Nil checks are skipped.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	active := make(map[string]Pinger, len(checks))
	for name, c := range checks {
		if c != nil {
			active[name] = c
		}
	}
	return &HealthHandler{checks: active}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": name + " unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
