package domain

import "errors"

// Validation errors are rejected before any state mutation and reported to
// the caller verbatim. ErrNotFound covers both absent positions and positions
// owned by someone else, so existence of other users' positions never leaks.
var (
	ErrUnknownSymbol     = errors.New("unknown symbol")
	ErrInvalidSide       = errors.New("side must be buy or sell")
	ErrInvalidVolume     = errors.New("volume must be greater than zero")
	ErrInvalidLeverage   = errors.New("leverage must be at least 1")
	ErrInvalidStopLoss   = errors.New("invalid stop loss for order side")
	ErrInvalidTakeProfit = errors.New("invalid take profit for order side")
	ErrNotFound          = errors.New("not found")
	ErrStaleQuote        = errors.New("no current quote for symbol")
	ErrDuplicateOrder    = errors.New("duplicate order submission")
	ErrRateLimited       = errors.New("rate limited")
	ErrPersistence       = errors.New("durable write failed")
)
