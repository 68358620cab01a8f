package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthFunc reports overall pipeline health plus per-component detail.
// Healthy means every book is live or syncing and the sinks are keeping up.
type HealthFunc func() (healthy bool, detail map[string]any)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	check  HealthFunc
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. A nil check always reports ok.
func NewHealthHandler(check HealthFunc, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{check: check, logger: logger}
}

// HealthCheck responds 200 with "ok" while the pipeline is healthy and 503
// with "degraded" plus detail once any book goes stale or a sink backs up.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.check != nil {
		healthy, detail := h.check()
		if !healthy {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
		if detail != nil {
			body["detail"] = detail
		}
	}

	writeJSON(w, status, body)
}
