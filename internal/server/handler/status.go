package handler

import (
	"net/http"
	"time"
)

// StatusFunc returns the full per-symbol runtime status of the pipelines.
type StatusFunc func() any

// StatusHandler serves the detailed runtime status endpoint.
type StatusHandler struct {
	status    StatusFunc
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(status StatusFunc, startedAt time.Time) *StatusHandler {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &StatusHandler{status: status, startedAt: startedAt}
}

// GetStatus returns per-symbol book states and pipeline counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.status != nil {
		body["pipelines"] = h.status()
	}
	writeJSON(w, http.StatusOK, body)
}
