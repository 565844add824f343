// Package engine implements the per-tick pass over the position book:
// floating P&L recomputation and stop-loss / take-profit trigger evaluation.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fxsim/brokercore/internal/book"
	"github.com/fxsim/brokercore/internal/domain"
)

// Engine reacts to every price feed tick. It is driven synchronously from the
// feed loop, which makes the feed the sole trigger writer: no two ticks can
// overlap, and within one tick every position on an instrument sees the same
// quote.
type Engine struct {
	registry *domain.Registry
	book     *book.Book
	logger   *slog.Logger
}

// New creates an Engine over the given registry and position book.
func New(registry *domain.Registry, b *book.Book, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		book:     b,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// HandleTick evaluates every open position against the tick's quotes.
//
// Per position: the comparison price is the exit side of the quote (bid for a
// buy, ask for a sell); floating P&L follows the fixed formula in
// domain.FloatingPL; triggers are evaluated stop-loss first, first match
// wins. A triggered position is closed through the book with the same price
// and P&L snapshot that caused the trigger, so detection and persistence are
// one unit of work.
//
// A malformed or missing quote for one instrument only skips that
// instrument's positions for this tick; the rest of the pass proceeds.
func (e *Engine) HandleTick(ctx context.Context, tick domain.Tick) {
	for _, symbol := range e.registry.Symbols() {
		quote, ok := tick.Quotes[symbol]
		if !ok || quote.Symbol == "" {
			e.logger.WarnContext(ctx, "tick missing quote, skipping symbol",
				slog.String("symbol", symbol),
				slog.Uint64("seq", tick.Seq),
			)
			continue
		}
		if !quote.Bid.IsPositive() || !quote.Ask.IsPositive() {
			e.logger.WarnContext(ctx, "tick carried non-positive quote, skipping symbol",
				slog.String("symbol", symbol),
				slog.Uint64("seq", tick.Seq),
				slog.String("bid", quote.Bid.String()),
			)
			continue
		}

		e.evaluateSymbol(ctx, symbol, quote)
	}
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, quote domain.Quote) {
	for _, pos := range e.book.OpenBySymbol(symbol) {
		exit := quote.ExitPrice(pos.Side)
		_, pl := domain.FloatingPL(pos, exit)

		reason, triggered := domain.TriggeredReason(pos, exit)
		if !triggered {
			e.book.UpdateLive(pos.ID, exit, pl)
			continue
		}

		if _, err := e.book.Close(ctx, pos.UserID, pos.ID, reason, exit, pl); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// A manual close won the race for this position. Exactly one
				// close reason is ever recorded.
				e.logger.DebugContext(ctx, "trigger lost close race",
					slog.String("position_id", pos.ID),
					slog.String("reason", string(reason)),
				)
				continue
			}
			// Persistence exhausted its retries: the position stays open and
			// will re-trigger on a later tick. Logged as an incident, never
			// fatal to the tick.
			e.logger.ErrorContext(ctx, "trigger close failed",
				slog.String("position_id", pos.ID),
				slog.String("symbol", symbol),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
			continue
		}

		e.logger.InfoContext(ctx, "position auto-closed",
			slog.String("position_id", pos.ID),
			slog.String("symbol", symbol),
			slog.String("reason", string(reason)),
			slog.String("close_price", exit.String()),
			slog.String("profit_loss", pl.String()),
		)
	}
}
