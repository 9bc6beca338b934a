package oracle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

const cacheKeyPrefix = "payhub:price:"

// CachedSource keeps prices in redis for a short ttl. Once a price expires it
// is fetched again; an expired price is never served.
type CachedSource struct {
	source PriceSource
	redis  *redis.Client
	ttl    time.Duration
	logger *lecho.Logger
}

func NewCachedSource(source PriceSource, client *redis.Client, ttl time.Duration, logger *lecho.Logger) *CachedSource {
	return &CachedSource{source: source, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedSource) Price(ctx context.Context, currency string) (decimal.Decimal, error) {
	key := cacheKeyPrefix + strings.ToUpper(currency)
	cached, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		price, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			return price, nil
		}
		c.logger.Warnf("Dropping unreadable cached price key:%s value:%s", key, cached)
	case !errors.Is(err, redis.Nil):
		c.logger.Warnf("Price cache unavailable key:%s: %v", key, err)
	}

	price, err := c.source.Price(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.redis.Set(ctx, key, price.String(), c.ttl).Err(); err != nil {
		c.logger.Warnf("Could not cache price key:%s: %v", key, err)
	}
	return price, nil
}
