package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/guhur/plus-proche/internal/doc"
)

const defaultCompactAfter = 200

// Cache is the local durable copy of a game document: an append-only list of
// encoded updates stored under one redis key, periodically folded into a single
// full-state update.
type Cache struct {
	redis        redis.UniversalClient
	key          string
	compactAfter int64
}

func NewCache(r redis.UniversalClient, key string) *Cache {
	return &Cache{
		redis:        r,
		key:          key,
		compactAfter: defaultCompactAfter,
	}
}

func (c *Cache) Key() string {
	return c.key
}

// Load returns the cached updates in the order they were written. Entries that
// cannot be decoded are skipped.
func (c *Cache) Load(ctx context.Context) ([]doc.Update, error) {
	raw, err := c.redis.LRange(ctx, c.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: load %s: %w", c.key, err)
	}

	updates := make([]doc.Update, 0, len(raw))
	for i, r := range raw {
		u, err := doc.DecodeUpdate([]byte(r))
		if err != nil {
			slog.WarnContext(ctx, "cache: malformed entry, ignoring", "key", c.key, "index", i, "error", err)
			continue
		}
		updates = append(updates, u)
	}

	return updates, nil
}

// Append stores u and reports whether the log grew past the compaction threshold.
func (c *Cache) Append(ctx context.Context, u doc.Update) (bool, error) {
	b, err := u.Encode()
	if err != nil {
		return false, err
	}

	n, err := c.redis.RPush(ctx, c.key, b).Result()
	if err != nil {
		return false, fmt.Errorf("cache: append %s: %w", c.key, err)
	}

	return n > c.compactAfter, nil
}

// Compact replaces the log with a single full-state update.
func (c *Cache) Compact(ctx context.Context, full doc.Update) error {
	b, err := full.Encode()
	if err != nil {
		return err
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key)
		pipe.RPush(ctx, c.key, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: compact %s: %w", c.key, err)
	}

	return nil
}

// Clear removes every cached update.
func (c *Cache) Clear(ctx context.Context) error {
	return c.redis.Del(ctx, c.key).Err()
}
