package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fxsim/brokercore/internal/domain"
	"github.com/fxsim/brokercore/internal/service"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	Submit(ctx context.Context, req service.OrderRequest) (domain.Position, error)
	ListOrders(ctx context.Context, userID, account string, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order submission and history endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// placeOrderRequest is the JSON body of an order submission. Volume and the
// optional price levels accept both JSON numbers and strings.
type placeOrderRequest struct {
	Account    string           `json:"account"`
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Volume     decimal.Decimal  `json:"volume"`
	Leverage   int              `json:"leverage"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

// PlaceOrder validates and executes a market order, returning the opened
// position. Replays carrying the same Idempotency-Key header are rejected.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var body placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	req := service.OrderRequest{
		UserID:         userID,
		Account:        body.Account,
		Symbol:         body.Symbol,
		Side:           domain.Side(strings.ToLower(strings.TrimSpace(body.Side))),
		Volume:         body.Volume,
		Leverage:       body.Leverage,
		StopLoss:       body.StopLoss,
		TakeProfit:     body.TakeProfit,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}

	pos, err := h.orders.Submit(r.Context(), req)
	if err != nil {
		switch {
		case service.IsValidationError(err):
			writeError(w, http.StatusBadRequest, validationMessage(err))
		case errors.Is(err, domain.ErrDuplicateOrder):
			writeError(w, http.StatusConflict, "duplicate order submission")
		case errors.Is(err, domain.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limited")
		case errors.Is(err, domain.ErrPersistence):
			writeError(w, http.StatusServiceUnavailable, "order could not be persisted")
		default:
			h.logger.ErrorContext(r.Context(), "handler: place order failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to place order")
		}
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// validationMessage maps a validation sentinel to its client-facing message.
func validationMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrInvalidSide,
		domain.ErrUnknownSymbol,
		domain.ErrStaleQuote,
		domain.ErrInvalidVolume,
		domain.ErrInvalidLeverage,
		domain.ErrInvalidStopLoss,
		domain.ErrInvalidTakeProfit,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "invalid order"
}

// listOrdersResponse wraps the order history response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns the caller's accepted orders, newest first.
// GET /api/orders?account=...&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	account := r.URL.Query().Get("account")
	orders, err := h.orders.ListOrders(r.Context(), userID, account, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}
