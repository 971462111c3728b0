// Package cache provides a Redis read-through cache for cart reads, so the
// hot GET-cart path does not hit PostgreSQL on every request.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/farmcart/farmcart/internal/domain/cart"
)

// ErrMiss is returned when the buyer's cart is not cached.
var ErrMiss = errors.New("cart cache miss")

const (
	baseTTL   = 15 * time.Minute
	jitterMax = 5 * time.Minute
)

// CartCache caches a buyer's cart entries in Redis. Entries are invalidated
// after every remote cart write; the TTL carries jitter so a burst of
// sessions does not expire at once.
type CartCache struct {
	client *redis.Client
}

// NewCartCache returns a CartCache backed by the given Redis client.
func NewCartCache(client *redis.Client) *CartCache {
	return &CartCache{client: client}
}

// Get returns the cached entries for the buyer, or ErrMiss.
func (c *CartCache) Get(ctx context.Context, buyerID string) ([]cart.Entry, error) {
	data, err := c.client.Get(ctx, cartKey(buyerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}

	var entries []cart.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "unmarshal cached cart")
	}
	return entries, nil
}

// Set stores the buyer's entries with a jittered TTL.
func (c *CartCache) Set(ctx context.Context, buyerID string, entries []cart.Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "marshal cart")
	}

	ttl := baseTTL + time.Duration(rand.Int63n(int64(jitterMax)))
	if err := c.client.Set(ctx, cartKey(buyerID), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Invalidate drops the buyer's cached cart.
func (c *CartCache) Invalidate(ctx context.Context, buyerID string) error {
	if err := c.client.Del(ctx, cartKey(buyerID)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func cartKey(buyerID string) string {
	return fmt.Sprintf("cart:%s", buyerID)
}
