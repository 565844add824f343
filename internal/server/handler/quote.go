package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fxsim/brokercore/internal/domain"
)

// QuoteService defines the methods that the quote handler requires from the
// service layer.
type QuoteService interface {
	Snapshot(ctx context.Context) ([]domain.Quote, error)
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// QuoteHandler serves the quote board endpoints.
type QuoteHandler struct {
	quotes QuoteService
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler with the given service and logger.
func NewQuoteHandler(quotes QuoteService, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{
		quotes: quotes,
		logger: logger,
	}
}

// listQuotesResponse wraps the quote board response.
type listQuotesResponse struct {
	Quotes []domain.Quote `json:"quotes"`
}

// ListQuotes returns the latest quote for every instrument.
// GET /api/quotes
func (h *QuoteHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.quotes.Snapshot(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list quotes failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list quotes")
		return
	}

	if quotes == nil {
		quotes = []domain.Quote{}
	}
	writeJSON(w, http.StatusOK, listQuotesResponse{Quotes: quotes})
}

// GetQuote returns the latest quote for one symbol.
// GET /api/quotes/{symbol}
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	q, err := h.quotes.Quote(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownSymbol) {
			writeError(w, http.StatusNotFound, "unknown symbol")
			return
		}
		if errors.Is(err, domain.ErrStaleQuote) {
			writeError(w, http.StatusServiceUnavailable, "no current quote for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get quote failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get quote")
		return
	}

	writeJSON(w, http.StatusOK, q)
}
