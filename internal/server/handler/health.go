package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler serves liveness and dependency checks.
type HealthHandler struct {
	checks map[string]func(context.Context) error
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency name to
// its ping function (postgres, redis); the map may be empty.
func NewHealthHandler(checks map[string]func(context.Context) error) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HealthCheck pings every dependency and reports per-component status.
// Returns 503 when any dependency is down.
// GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
