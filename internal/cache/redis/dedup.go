package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fxsim/brokercore/internal/domain"
)

// Deduper implements domain.Deduper using SETNX with a TTL. The first caller
// to present a key wins the slot; replays within the TTL see it occupied.
type Deduper struct {
	rdb *redis.Client
}

// NewDeduper creates a Deduper backed by the given Client.
func NewDeduper(c *Client) *Deduper {
	return &Deduper{rdb: c.Underlying()}
}

func dedupKey(key string) string {
	return "dedup:" + key
}

// FirstSeen records key and returns true when it has not been seen within the
// TTL window; false means the key is a duplicate submission.
func (d *Deduper) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup %s: %w", key, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.Deduper = (*Deduper)(nil)
