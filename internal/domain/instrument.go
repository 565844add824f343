package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Instrument holds the static per-symbol metadata consumed by the price feed
// and the P&L calculator. Instruments are immutable after startup.
type Instrument struct {
	Symbol     string          // e.g. "EURUSD"
	PipSize    decimal.Decimal // smallest meaningful price increment
	Precision  int32           // quote rounding precision in decimal places
	Volatility decimal.Decimal // per-tick perturbation bound, relative
	BasePrice  decimal.Decimal // starting price for the simulated walk
}

// Registry is an immutable lookup table of tradable instruments, built once
// at startup and shared read-only by every component.
type Registry struct {
	bySymbol map[string]Instrument
	symbols  []string
}

// NewRegistry builds a Registry from the given instruments. It returns an
// error when a symbol is duplicated or an instrument is malformed, since a
// bad registry would poison every downstream price computation.
func NewRegistry(instruments []Instrument) (*Registry, error) {
	bySymbol := make(map[string]Instrument, len(instruments))
	symbols := make([]string, 0, len(instruments))

	for _, inst := range instruments {
		if inst.Symbol == "" {
			return nil, fmt.Errorf("domain: instrument with empty symbol")
		}
		if _, dup := bySymbol[inst.Symbol]; dup {
			return nil, fmt.Errorf("domain: duplicate instrument %s", inst.Symbol)
		}
		if !inst.PipSize.IsPositive() {
			return nil, fmt.Errorf("domain: instrument %s: pip size must be positive", inst.Symbol)
		}
		if inst.Precision < 0 {
			return nil, fmt.Errorf("domain: instrument %s: negative precision", inst.Symbol)
		}
		if !inst.Volatility.IsPositive() {
			return nil, fmt.Errorf("domain: instrument %s: volatility must be positive", inst.Symbol)
		}
		if !inst.BasePrice.IsPositive() {
			return nil, fmt.Errorf("domain: instrument %s: base price must be positive", inst.Symbol)
		}
		bySymbol[inst.Symbol] = inst
		symbols = append(symbols, inst.Symbol)
	}

	sort.Strings(symbols)
	return &Registry{bySymbol: bySymbol, symbols: symbols}, nil
}

// Get returns the instrument for symbol. It returns ErrUnknownSymbol when the
// symbol is not registered.
func (r *Registry) Get(symbol string) (Instrument, error) {
	inst, ok := r.bySymbol[symbol]
	if !ok {
		return Instrument{}, fmt.Errorf("domain: instrument %s: %w", symbol, ErrUnknownSymbol)
	}
	return inst, nil
}

// Symbols returns all registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// All returns every registered instrument, ordered by symbol.
func (r *Registry) All() []Instrument {
	out := make([]Instrument, 0, len(r.symbols))
	for _, s := range r.symbols {
		out = append(out, r.bySymbol[s])
	}
	return out
}
