package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates whether an order or position is long or short.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Order is the write-once intent that, once validated, produces a Position.
// Orders are never mutated after acceptance; the persisted row is an audit
// trail of what the client asked for.
type Order struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Account    string           `json:"account"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Volume     decimal.Decimal  `json:"volume"`
	Leverage   int              `json:"leverage"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	OpenPrice  decimal.Decimal  `json:"open_price"` // effective price snapshotted at acceptance
	CreatedAt  time.Time        `json:"created_at"`
}
