package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/inventory-service/internal/domain"
)

// Cache fronts the availability read path. It is strictly an accelerator:
// every miss or error falls through to Postgres.
type Cache struct {
	Client *redis.Client
	TTL    time.Duration
}

func New(addr, pass string, db int, ttl time.Duration) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{Client: rdb, TTL: ttl}
}

func availabilityKey(itemID string) string {
	return "inv:avail:" + itemID
}

func (c *Cache) GetAvailability(ctx context.Context, itemID string) (int, error) {
	val, err := c.Client.Get(ctx, availabilityKey(itemID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrCacheMiss
		}
		return 0, err
	}
	return strconv.Atoi(val)
}

func (c *Cache) SetAvailability(ctx context.Context, itemID string, available int) error {
	return c.Client.Set(ctx, availabilityKey(itemID), available, c.TTL).Err()
}

// Invalidate drops the cached value after any quantity mutation. The next
// read repopulates from the database.
func (c *Cache) Invalidate(ctx context.Context, itemID string) error {
	return c.Client.Del(ctx, availabilityKey(itemID)).Err()
}

func (c *Cache) Close() error {
	return c.Client.Close()
}
