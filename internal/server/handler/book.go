package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// BookHandler serves the cached book view for a symbol.
type BookHandler struct {
	cache  domain.BookCache
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler backed by the given cache.
func NewBookHandler(cache domain.BookCache, logger *slog.Logger) *BookHandler {
	return &BookHandler{cache: cache, logger: logHandler(logger, "book")}
}

// GetBook returns the most recently mirrored view of a symbol's book.
// GET /api/books/{symbol}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol path parameter is required")
		return
	}

	view, err := h.cache.GetView(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no book view for symbol "+symbol)
			return
		}
		h.logger.Error("get book view failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get book view")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// GetBBO returns just the best bid/ask for a symbol.
// GET /api/books/{symbol}/bbo
func (h *BookHandler) GetBBO(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol path parameter is required")
		return
	}

	bid, ask, err := h.cache.GetBBO(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no book view for symbol "+symbol)
			return
		}
		h.logger.Error("get bbo failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get bbo")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"best_bid": bid,
		"best_ask": ask,
	})
}
