// Package feed implements the synthetic price feed: a bounded random walk per
// instrument, advanced on a fixed cadence, acting as the sole source of
// "current price" for the rest of the core.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxsim/brokercore/internal/domain"
)

// TickHandler receives every completed tick synchronously from the feed loop.
// The handler runs on the feed goroutine, so a tick is fully processed
// (including trigger evaluation) before the next one is generated.
type TickHandler interface {
	HandleTick(ctx context.Context, tick domain.Tick)
}

// Simulator owns the per-instrument walk state and produces a fresh quote for
// every registered instrument on each tick. Bid and ask are always set to the
// same generated price (zero-spread policy).
type Simulator struct {
	registry   *domain.Registry
	cache      domain.QuoteCache // optional mirror for read-only collaborators
	bus        domain.SignalBus  // optional live event publication
	handler    TickHandler       // optional; set before Run
	interval   time.Duration
	rebaseProb float64
	logger     *slog.Logger

	mu     sync.RWMutex
	rng    *rand.Rand
	bases  map[string]decimal.Decimal
	quotes map[string]domain.Quote
	seq    uint64
}

// Options configures a Simulator beyond its required dependencies.
type Options struct {
	Interval   time.Duration
	RebaseProb float64
	// Seed fixes the random source for reproducible walks; zero seeds from
	// the clock.
	Seed  int64
	Cache domain.QuoteCache
	Bus   domain.SignalBus
}

// NewSimulator creates a Simulator with every instrument's walk anchored at
// its configured base price.
func NewSimulator(registry *domain.Registry, opts Options, logger *slog.Logger) *Simulator {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	bases := make(map[string]decimal.Decimal)
	quotes := make(map[string]domain.Quote)
	now := time.Now().UTC()
	for _, inst := range registry.All() {
		bases[inst.Symbol] = inst.BasePrice
		price := inst.BasePrice.Round(inst.Precision)
		quotes[inst.Symbol] = domain.Quote{
			Symbol: inst.Symbol,
			Bid:    price,
			Ask:    price,
			At:     now,
		}
	}

	return &Simulator{
		registry:   registry,
		cache:      opts.Cache,
		bus:        opts.Bus,
		interval:   interval,
		rebaseProb: opts.RebaseProb,
		logger:     logger.With(slog.String("component", "feed")),
		rng:        rand.New(rand.NewSource(seed)),
		bases:      bases,
		quotes:     quotes,
	}
}

// SetHandler registers the tick handler. It must be called before Run.
func (s *Simulator) SetHandler(h TickHandler) {
	s.handler = h
}

// Tick advances every instrument's quote once and returns the resulting tick.
// For each instrument a uniform perturbation in [-volatility, +volatility] is
// applied to the running base price and the result rounded to the quote
// precision; with the configured probability the base itself drifts to the
// new (unrounded) price, so the walk wanders instead of mean-reverting to the
// original anchor every tick.
func (s *Simulator) Tick(ctx context.Context) domain.Tick {
	s.mu.Lock()

	s.seq++
	now := time.Now().UTC()
	tick := domain.Tick{
		Seq:    s.seq,
		At:     now,
		Quotes: make(map[string]domain.Quote, len(s.bases)),
	}

	for _, inst := range s.registry.All() {
		base := s.bases[inst.Symbol]
		vol, _ := inst.Volatility.Float64()
		change := (s.rng.Float64()*2 - 1) * vol

		next := base.Mul(decimal.NewFromFloat(1 + change))
		price := next.Round(inst.Precision)

		if s.rng.Float64() < s.rebaseProb {
			s.bases[inst.Symbol] = next
		}

		q := domain.Quote{
			Symbol: inst.Symbol,
			Bid:    price,
			Ask:    price,
			At:     now,
		}
		s.quotes[inst.Symbol] = q
		tick.Quotes[inst.Symbol] = q
	}

	s.mu.Unlock()

	s.publish(ctx, tick)

	if s.handler != nil {
		s.handler.HandleTick(ctx, tick)
	}

	return tick
}

// publish mirrors the tick to the quote cache and the signal bus. Failures
// are warnings: the in-process snapshot remains authoritative for the engine.
func (s *Simulator) publish(ctx context.Context, tick domain.Tick) {
	if s.cache != nil {
		for _, q := range tick.Quotes {
			if err := s.cache.SetQuote(ctx, q); err != nil {
				s.logger.WarnContext(ctx, "quote cache write failed",
					slog.String("symbol", q.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(tickEvent{
			Event:  "tick",
			Seq:    tick.Seq,
			At:     tick.At.Format(time.RFC3339Nano),
			Quotes: tick.Quotes,
		})
		if err == nil {
			if err := s.bus.Publish(ctx, "quotes", payload); err != nil {
				s.logger.WarnContext(ctx, "tick publish failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// tickEvent is the JSON shape published on the "quotes" channel.
type tickEvent struct {
	Event  string                  `json:"event"`
	Seq    uint64                  `json:"seq"`
	At     string                  `json:"at"`
	Quotes map[string]domain.Quote `json:"quotes"`
}

// Run drives Tick on the configured interval until the context is cancelled.
// An in-flight tick always completes before Run returns, so a trigger that
// has been detected is never abandoned between detection and persistence.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("price feed started",
		slog.Duration("interval", s.interval),
		slog.Int("instruments", len(s.registry.Symbols())),
	)
	defer s.logger.Info("price feed stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Quote returns the latest committed quote for symbol. It returns
// ErrStaleQuote when the symbol has never been quoted (unknown symbols are
// caught earlier by the registry).
func (s *Simulator) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrStaleQuote
	}
	return q, nil
}

// Snapshot returns the latest committed quote for every instrument, ordered
// by symbol.
func (s *Simulator) Snapshot(_ context.Context) ([]domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quote, 0, len(s.quotes))
	for _, sym := range s.registry.Symbols() {
		if q, ok := s.quotes[sym]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.QuoteSource = (*Simulator)(nil)
