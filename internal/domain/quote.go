package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the current simulated price of one instrument. The feed keeps bid
// and ask equal (zero-spread policy of the simulation); consumers must not
// assume a spread exists, but the split fields are kept so the exit side of a
// position is always read from the correct one.
type Quote struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	At     time.Time       `json:"at"`
}

// EntryPrice returns the price a new position of the given side opens at:
// ask for a buy, bid for a sell.
func (q Quote) EntryPrice(side Side) decimal.Decimal {
	if side == SideBuy {
		return q.Ask
	}
	return q.Bid
}

// ExitPrice returns the price an existing position of the given side could be
// closed at right now: bid for a buy, ask for a sell. Floating P&L and SL/TP
// evaluation always use this side.
func (q Quote) ExitPrice(side Side) decimal.Decimal {
	if side == SideBuy {
		return q.Bid
	}
	return q.Ask
}

// QuoteSource serves the latest committed quote per symbol. The feed
// simulator implements it in-process; the api mode substitutes a cache-backed
// reader.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Snapshot(ctx context.Context) ([]Quote, error)
}

// Tick is one discrete advance of the price feed: the new quote for every
// registered instrument, generated in the same feed pass so all positions on
// one instrument observe the same price within a tick.
type Tick struct {
	Seq    uint64
	At     time.Time
	Quotes map[string]Quote
}
