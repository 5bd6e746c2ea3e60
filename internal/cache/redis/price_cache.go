package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each outcome is
// stored at "price:{outcomeID}" with fields "price" and "ts" (Unix nanos).
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. Entries expire after ttl; zero keeps
// them forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrice stores the latest price for an outcome. Older timestamps never
// overwrite newer ones.
func (pc *PriceCache) SetPrice(ctx context.Context, outcomeID string, price float64, ts time.Time) error {
	key := pc.c.key("price", outcomeID)

	prev, err := pc.c.rdb.HGet(ctx, key, "ts").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: set price %s: %w", outcomeID, err)
	}
	if prev != "" {
		if prevNano, perr := strconv.ParseInt(prev, 10, 64); perr == nil && prevNano > ts.UnixNano() {
			return nil
		}
	}

	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", outcomeID, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for an outcome.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, outcomeID string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price", outcomeID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", outcomeID, err)
	}
	price, ts, ok := parsePriceHash(vals)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

// GetPrices retrieves prices for several outcomes in one pipeline. Missing
// outcomes are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, outcomeIDs []string) (map[string]float64, error) {
	if len(outcomeIDs) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(outcomeIDs))
	for _, id := range outcomeIDs {
		cmds[id] = pipe.HGetAll(ctx, pc.c.key("price", id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(outcomeIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, ok := parsePriceHash(vals); ok {
			result[id] = price
		}
	}
	return result, nil
}

func parsePriceHash(vals map[string]string) (float64, time.Time, bool) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, false
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return price, time.Unix(0, tsNano), true
}

var _ domain.PriceCache = (*PriceCache)(nil)
