package handler

import (
	"log/slog"
	"net/http"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// EventHandler serves persisted anomaly events.
type EventHandler struct {
	sink   domain.EventSink
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler backed by the given sink.
func NewEventHandler(sink domain.EventSink, logger *slog.Logger) *EventHandler {
	return &EventHandler{sink: sink, logger: logHandler(logger, "events")}
}

// ListEvents returns anomaly events for a symbol, newest first.
// GET /api/events?symbol=BTCUSDT&limit=50&offset=0&since=...&until=...
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	events, err := h.sink.ListEvents(r.Context(), symbol, parseListOpts(r))
	if err != nil {
		h.logger.Error("list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"count":  len(events),
		"events": events,
	})
}
