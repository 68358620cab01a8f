package handler

import (
	"log/slog"
	"net/http"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// SnapshotHandler serves persisted liquidity snapshots.
type SnapshotHandler struct {
	sink   domain.SnapshotSink
	logger *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler backed by the given sink.
func NewSnapshotHandler(sink domain.SnapshotSink, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{sink: sink, logger: logHandler(logger, "snapshots")}
}

// ListSnapshots returns snapshots for a symbol, newest first.
// GET /api/snapshots?symbol=BTCUSDT&limit=50&offset=0&since=...&until=...
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	samples, err := h.sink.ListSnapshots(r.Context(), symbol, parseListOpts(r))
	if err != nil {
		h.logger.Error("list snapshots failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"count":     len(samples),
		"snapshots": samples,
	})
}
