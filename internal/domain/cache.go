package domain

import (
	"context"
	"time"
)

// QuoteCache mirrors the latest quote per symbol so read-only collaborators
// (the api mode, dashboards) can serve prices without touching the feed.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for live events (quotes, position transitions,
// persistence incidents) and durable streams for consumers that must not
// miss messages.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter provides distributed request rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Deduper rejects replays of the same client idempotency key within a TTL
// window.
type Deduper interface {
	// FirstSeen records key and returns true when it has not been seen within
	// the window; false means the key is a duplicate submission.
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
