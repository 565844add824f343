package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fxsim/brokercore/internal/domain"
)

// PositionService defines the methods that the position handler requires from
// the service layer.
type PositionService interface {
	ListOpen(ctx context.Context, userID, account string) ([]domain.Position, error)
	Close(ctx context.Context, userID, id string) (domain.Position, error)
	History(ctx context.Context, userID, account string, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position listing, closing, and history endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and
// logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the position list response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the caller's positions. The default view is open
// positions with live P&L; status=closed serves the closed set instead, with
// the same pagination options as the history endpoint.
// GET /api/positions?account=...&status=open|closed
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	account := r.URL.Query().Get("account")

	var positions []domain.Position
	var err error
	switch status := r.URL.Query().Get("status"); status {
	case "", string(domain.PositionStatusOpen):
		positions, err = h.positions.ListOpen(r.Context(), userID, account)
	case string(domain.PositionStatusClosed):
		positions, err = h.positions.History(r.Context(), userID, account, parseListOpts(r))
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter: "+status)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ClosePosition manually closes the identified position at the current price
// and returns the closed position.
// DELETE /api/positions/{id}
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.positions.Close(r.Context(), userID, id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrStaleQuote):
			writeError(w, http.StatusServiceUnavailable, "no current quote for symbol")
		case errors.Is(err, domain.ErrPersistence):
			writeError(w, http.StatusServiceUnavailable, "close could not be persisted")
		default:
			h.logger.ErrorContext(r.Context(), "handler: close position failed",
				slog.String("user_id", userID),
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to close position")
		}
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// History returns the caller's closed positions, newest close first.
// GET /api/history?account=...&limit=50&offset=0&since=...&until=...
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	account := r.URL.Query().Get("account")
	positions, err := h.positions.History(r.Context(), userID, account, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list history failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
