package service

import (
	"context"
	"fmt"

	"github.com/fxsim/brokercore/internal/domain"
)

// QuoteService exposes the current quote board.
type QuoteService struct {
	registry *domain.Registry
	source   domain.QuoteSource
}

// NewQuoteService creates a QuoteService over the given source.
func NewQuoteService(registry *domain.Registry, source domain.QuoteSource) *QuoteService {
	return &QuoteService{registry: registry, source: source}
}

// Snapshot returns the latest quote for every registered instrument.
func (s *QuoteService) Snapshot(ctx context.Context) ([]domain.Quote, error) {
	quotes, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("quote_service: snapshot: %w", err)
	}
	return quotes, nil
}

// Quote returns the latest quote for symbol, rejecting unregistered symbols.
func (s *QuoteService) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if _, err := s.registry.Get(symbol); err != nil {
		return domain.Quote{}, fmt.Errorf("quote_service: quote: %w", err)
	}
	q, err := s.source.Quote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("quote_service: quote %s: %w", symbol, err)
	}
	return q, nil
}

// CachedQuoteSource is a read-only QuoteSource backed by the shared quote
// cache. The api mode uses it to serve prices written by the engine process.
type CachedQuoteSource struct {
	registry *domain.Registry
	cache    domain.QuoteCache
}

// NewCachedQuoteSource creates a CachedQuoteSource over the given cache.
func NewCachedQuoteSource(registry *domain.Registry, cache domain.QuoteCache) *CachedQuoteSource {
	return &CachedQuoteSource{registry: registry, cache: cache}
}

// Quote returns the cached quote for symbol.
func (c *CachedQuoteSource) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	return c.cache.GetQuote(ctx, symbol)
}

// Snapshot returns the cached quote for every registered instrument, ordered
// by symbol. Instruments with no cached quote yet are omitted.
func (c *CachedQuoteSource) Snapshot(ctx context.Context) ([]domain.Quote, error) {
	symbols := c.registry.Symbols()
	quotes, err := c.cache.GetQuotes(ctx, symbols)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Quote, 0, len(quotes))
	for _, sym := range symbols {
		if q, ok := quotes[sym]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.QuoteSource = (*CachedQuoteSource)(nil)
