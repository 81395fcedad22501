package redis

import (
	"context"
	"time"

	"credit-settlement/internal/domain/ports/adapter"
)

var _ adapter.SettlementCache = (*SettlementCache)(nil)

// SettlementCache remembers settled merchant order numbers so provider retries
// are acknowledged without opening a transaction.
type SettlementCache struct {
	client RedisClient
}

func NewSettlementCache(client RedisClient) *SettlementCache {
	return &SettlementCache{client: client}
}

func settledKey(no string) string { return "settled:" + no }

func (c *SettlementCache) MarkSettled(ctx context.Context, no string, ttl time.Duration) error {
	return c.client.Set(ctx, settledKey(no), 1, ttl)
}

func (c *SettlementCache) IsSettled(ctx context.Context, no string) (bool, error) {
	return c.client.Exists(ctx, settledKey(no))
}
