// Package service contains the application services that sit between the HTTP
// layer and the core: order validation and admission, and read-side position
// queries with live P&L.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fxsim/brokercore/internal/book"
	"github.com/fxsim/brokercore/internal/domain"
)

// dedupTTL is how long an idempotency key blocks replays of the same
// submission.
const dedupTTL = 10 * time.Minute

// OrderRequest is a client's order submission before validation.
type OrderRequest struct {
	UserID         string
	Account        string
	Symbol         string
	Side           domain.Side
	Volume         decimal.Decimal
	Leverage       int
	StopLoss       *decimal.Decimal
	TakeProfit     *decimal.Decimal
	IdempotencyKey string
}

// OrderService validates order submissions and admits the resulting positions
// to the book. Validation runs a fixed rule sequence and rejects on the first
// failure, before any state is touched.
type OrderService struct {
	registry *domain.Registry
	quotes   domain.QuoteSource
	orders   domain.OrderStore
	book     *book.Book
	dedup    domain.Deduper // optional
	logger   *slog.Logger
}

// NewOrderService creates an OrderService. dedup may be nil, in which case
// idempotency keys are not enforced.
func NewOrderService(
	registry *domain.Registry,
	quotes domain.QuoteSource,
	orders domain.OrderStore,
	b *book.Book,
	dedup domain.Deduper,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		registry: registry,
		quotes:   quotes,
		orders:   orders,
		book:     b,
		dedup:    dedup,
		logger:   logger.With(slog.String("component", "order_service")),
	}
}

// Submit validates the request, snapshots the effective open price from the
// current quote, records the accepted order, and opens the position. The
// rules run in a fixed order (side, symbol, quote availability, volume,
// leverage, stop loss, take profit) and the first violation is returned
// untouched, so a request that breaks several rules always reports the same
// one.
func (s *OrderService) Submit(ctx context.Context, req OrderRequest) (domain.Position, error) {
	if !req.Side.Valid() {
		return domain.Position{}, fmt.Errorf("order_service: submit: %w", domain.ErrInvalidSide)
	}
	if _, err := s.registry.Get(req.Symbol); err != nil {
		return domain.Position{}, fmt.Errorf("order_service: submit: %w", err)
	}

	quote, err := s.quotes.Quote(ctx, req.Symbol)
	if err != nil {
		return domain.Position{}, fmt.Errorf("order_service: submit %s: %w", req.Symbol, err)
	}
	entry := quote.EntryPrice(req.Side)

	if !req.Volume.IsPositive() {
		return domain.Position{}, fmt.Errorf("order_service: submit: %w", domain.ErrInvalidVolume)
	}
	if req.Leverage < 1 {
		return domain.Position{}, fmt.Errorf("order_service: submit: %w", domain.ErrInvalidLeverage)
	}
	if err := validateStops(req.Side, entry, req.StopLoss, req.TakeProfit); err != nil {
		return domain.Position{}, fmt.Errorf("order_service: submit: %w", err)
	}

	if req.IdempotencyKey != "" && s.dedup != nil {
		first, err := s.dedup.FirstSeen(ctx, req.UserID+":"+req.IdempotencyKey, dedupTTL)
		if err != nil {
			return domain.Position{}, fmt.Errorf("order_service: submit: idempotency check: %w", err)
		}
		if !first {
			return domain.Position{}, fmt.Errorf("order_service: submit: %w", domain.ErrDuplicateOrder)
		}
	}

	order := domain.Order{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Account:    req.Account,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenPrice:  entry,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Position{}, fmt.Errorf("order_service: record order: %w", err)
	}

	pos, err := s.book.Open(ctx, order)
	if err != nil {
		return domain.Position{}, fmt.Errorf("order_service: open position: %w", err)
	}

	s.logger.InfoContext(ctx, "order accepted",
		slog.String("order_id", order.ID),
		slog.String("position_id", pos.ID),
		slog.String("user_id", order.UserID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.String("open_price", order.OpenPrice.String()),
	)
	return pos, nil
}

// validateStops enforces the directional placement of stop loss and take
// profit relative to the effective open price: for a buy the stop loss must
// sit below and the take profit above; for a sell the reverse. The stop loss
// rule is checked first.
func validateStops(side domain.Side, entry decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) error {
	if stopLoss != nil {
		if side == domain.SideBuy && !stopLoss.LessThan(entry) {
			return domain.ErrInvalidStopLoss
		}
		if side == domain.SideSell && !stopLoss.GreaterThan(entry) {
			return domain.ErrInvalidStopLoss
		}
	}
	if takeProfit != nil {
		if side == domain.SideBuy && !takeProfit.GreaterThan(entry) {
			return domain.ErrInvalidTakeProfit
		}
		if side == domain.SideSell && !takeProfit.LessThan(entry) {
			return domain.ErrInvalidTakeProfit
		}
	}
	return nil
}

// ListOrders returns the user's accepted orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID, account string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID, account, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list orders: %w", err)
	}
	return orders, nil
}

// IsValidationError reports whether err is one of the order validation
// sentinels, as opposed to an infrastructure failure.
func IsValidationError(err error) bool {
	return errors.Is(err, domain.ErrInvalidSide) ||
		errors.Is(err, domain.ErrUnknownSymbol) ||
		errors.Is(err, domain.ErrStaleQuote) ||
		errors.Is(err, domain.ErrInvalidVolume) ||
		errors.Is(err, domain.ErrInvalidLeverage) ||
		errors.Is(err, domain.ErrInvalidStopLoss) ||
		errors.Is(err, domain.ErrInvalidTakeProfit)
}
