package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed. A position is in
// exactly one of the two states; once closed it is immutable.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// CloseReason records why a position left the open state.
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
)

// Position is an open or historical trading position. CurrentPrice and
// ProfitLoss are live values recomputed on every feed tick and on read; they
// are not authoritative in the durable store. Everything else round-trips
// through persistence exactly.
type Position struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Account      string           `json:"account"`
	Symbol       string           `json:"symbol"`
	Side         Side             `json:"side"`
	Volume       decimal.Decimal  `json:"volume"`
	OpenPrice    decimal.Decimal  `json:"open_price"`
	CurrentPrice decimal.Decimal  `json:"current_price"`
	Leverage     int              `json:"leverage"`
	StopLoss     *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"take_profit,omitempty"`
	ProfitLoss   decimal.Decimal  `json:"profit_loss"`
	Status       PositionStatus   `json:"status"`
	OpenedAt     time.Time        `json:"opened_at"`
	ClosePrice   *decimal.Decimal `json:"close_price,omitempty"`
	CloseReason  CloseReason      `json:"close_reason,omitempty"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
}

// Open reports whether the position is still open.
func (p Position) Open() bool {
	return p.Status == PositionStatusOpen
}

// CloseDetail carries the terminal fields stamped onto a position when it
// transitions to closed.
type CloseDetail struct {
	Price      decimal.Decimal
	Reason     CloseReason
	ProfitLoss decimal.Decimal
	At         time.Time
}
