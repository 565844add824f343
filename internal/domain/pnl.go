package domain

import "github.com/shopspring/decimal"

// FloatingPL computes the signed price movement in the position's favor and
// the resulting monetary profit/loss against the given exit-side price.
//
// pips is (exit - open) for a buy and (open - exit) for a sell. The monetary
// value is (pips / pip_size) * volume * leverage * pip_size; the pip size
// cancels, so it is computed directly as pips * volume * leverage, rounded
// to 2 decimal places. Downstream balance and equity calculations depend on
// this exact rounding point, so it must not move.
func FloatingPL(pos Position, exit decimal.Decimal) (pips, pl decimal.Decimal) {
	if pos.Side == SideBuy {
		pips = exit.Sub(pos.OpenPrice)
	} else {
		pips = pos.OpenPrice.Sub(exit)
	}
	pl = pips.Mul(pos.Volume).Mul(decimal.NewFromInt(int64(pos.Leverage))).Round(2)
	return pips, pl
}

// TriggeredReason evaluates the position's stop-loss and take-profit against
// the exit-side price. Rules are checked in a fixed order, stop-loss before
// take-profit, and the first match wins, so behavior stays deterministic
// when a single tick crosses both thresholds.
func TriggeredReason(pos Position, exit decimal.Decimal) (CloseReason, bool) {
	if pos.StopLoss != nil {
		if pos.Side == SideBuy && exit.LessThanOrEqual(*pos.StopLoss) {
			return CloseReasonStopLoss, true
		}
		if pos.Side == SideSell && exit.GreaterThanOrEqual(*pos.StopLoss) {
			return CloseReasonStopLoss, true
		}
	}
	if pos.TakeProfit != nil {
		if pos.Side == SideBuy && exit.GreaterThanOrEqual(*pos.TakeProfit) {
			return CloseReasonTakeProfit, true
		}
		if pos.Side == SideSell && exit.LessThanOrEqual(*pos.TakeProfit) {
			return CloseReasonTakeProfit, true
		}
	}
	return "", false
}
