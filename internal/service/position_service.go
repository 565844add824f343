package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fxsim/brokercore/internal/book"
	"github.com/fxsim/brokercore/internal/domain"
)

// PositionService serves position reads with live P&L and performs manual
// closes. Live values are recomputed from the latest quote at read time, so a
// caller always sees prices no older than the last committed tick.
type PositionService struct {
	book   *book.Book
	quotes domain.QuoteSource
	logger *slog.Logger
}

// NewPositionService creates a PositionService over the given book and quote
// source.
func NewPositionService(b *book.Book, quotes domain.QuoteSource, logger *slog.Logger) *PositionService {
	return &PositionService{
		book:   b,
		quotes: quotes,
		logger: logger.With(slog.String("component", "position_service")),
	}
}

// ListOpen returns the user's open positions for the given account (all
// accounts when account is empty), ordered by open time. Current price and
// floating P&L are recomputed against the latest quote; when no quote is
// available for an instrument the last tick's values are served unchanged.
func (s *PositionService) ListOpen(ctx context.Context, userID, account string) ([]domain.Position, error) {
	positions := s.book.ListOpen(userID, account)

	for i := range positions {
		quote, err := s.quotes.Quote(ctx, positions[i].Symbol)
		if err != nil {
			continue
		}
		exit := quote.ExitPrice(positions[i].Side)
		_, pl := domain.FloatingPL(positions[i], exit)
		positions[i].CurrentPrice = exit
		positions[i].ProfitLoss = pl
	}
	return positions, nil
}

// Close manually closes the identified position at the current exit price.
// ErrNotFound covers absent, foreign, and already-closed positions alike.
func (s *PositionService) Close(ctx context.Context, userID, id string) (domain.Position, error) {
	pos, err := s.book.Get(userID, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: close %s: %w", id, err)
	}

	quote, err := s.quotes.Quote(ctx, pos.Symbol)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: close %s: %w", id, err)
	}

	exit := quote.ExitPrice(pos.Side)
	_, pl := domain.FloatingPL(pos, exit)

	closed, err := s.book.Close(ctx, userID, id, domain.CloseReasonManual, exit, pl)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: close %s: %w", id, err)
	}
	return closed, nil
}

// History returns the user's closed positions, newest close first.
func (s *PositionService) History(ctx context.Context, userID, account string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.book.History(ctx, userID, account, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: history: %w", err)
	}
	return positions, nil
}
