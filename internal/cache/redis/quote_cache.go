package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fxsim/brokercore/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each symbol's
// latest quote is stored at key "quote:{symbol}" with fields "bid", "ask" and
// "ts" (Unix nanosecond timestamp). Prices round-trip as decimal strings so
// no precision is lost in the cache.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// SetQuote stores the latest quote for a symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	fields := map[string]interface{}{
		"bid": q.Bid.String(),
		"ask": q.Ask.String(),
		"ts":  strconv.FormatInt(q.At.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, quoteKey(q.Symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a symbol. It returns
// domain.ErrStaleQuote when no quote has been cached yet.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, domain.ErrStaleQuote)
	}
	return parseQuote(symbol, vals)
}

// GetQuotes retrieves the latest quotes for multiple symbols using a
// pipeline. Symbols with no cached quote are omitted from the result map.
func (qc *QuoteCache) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, quoteKey(s))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(symbols))
	for symbol, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(symbol, vals)
		if err != nil {
			continue
		}
		result[symbol] = q
	}

	return result, nil
}

func parseQuote(symbol string, vals map[string]string) (domain.Quote, error) {
	bidStr, okBid := vals["bid"]
	askStr, okAsk := vals["ask"]
	tsStr, okTs := vals["ts"]
	if !okBid || !okAsk || !okTs {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", symbol, domain.ErrStaleQuote)
	}

	bid, err := decimal.NewFromString(bidStr)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse bid %s: %w", symbol, err)
	}
	ask, err := decimal.NewFromString(askStr)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ask %s: %w", symbol, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	return domain.Quote{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		At:     time.Unix(0, tsNano).UTC(),
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
