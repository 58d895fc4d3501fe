package settings

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const cachePrefix = "settings:v1:"

// Cached keeps provider answers in Redis for a short TTL. Cache errors fall
// through to the underlying provider.
type Cached struct {
	cache  *redis.Client
	next   Provider
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(cache *redis.Client, next Provider, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{cache: cache, next: next, ttl: ttl, logger: logger}
}

func (c *Cached) CommissionRate(ctx context.Context, kind string) (decimal.Decimal, error) {
	key := cachePrefix + keyCommissionPrefix + kind
	if raw, ok := c.get(ctx, key); ok {
		if rate, err := decimal.NewFromString(raw); err == nil {
			return rate, nil
		}
	}
	rate, err := c.next.CommissionRate(ctx, kind)
	if err != nil {
		return decimal.Zero, err
	}
	c.set(ctx, key, rate.String())
	return rate, nil
}

func (c *Cached) ClearancePeriodDays(ctx context.Context) (int, error) {
	key := cachePrefix + keyClearanceDays
	if raw, ok := c.get(ctx, key); ok {
		if days, err := strconv.Atoi(raw); err == nil {
			return days, nil
		}
	}
	days, err := c.next.ClearancePeriodDays(ctx)
	if err != nil {
		return 0, err
	}
	c.set(ctx, key, strconv.Itoa(days))
	return days, nil
}

func (c *Cached) get(ctx context.Context, key string) (string, bool) {
	raw, err := c.cache.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Warn("settings cache read failed", slog.String("key", key), slog.Any("error", err))
		return "", false
	}
	return raw, true
}

func (c *Cached) set(ctx context.Context, key, value string) {
	if err := c.cache.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("settings cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
