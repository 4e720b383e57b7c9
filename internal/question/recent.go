package question

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Recent remembers the latest questions asked per theme, newest first.
type Recent struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRecent(r redis.UniversalClient, prefix string) *Recent {
	return &Recent{
		redis:  r,
		prefix: prefix,
	}
}

// List returns up to MaxRecentPerTheme questions of theme, newest first.
func (r *Recent) List(ctx context.Context, theme string) ([]string, error) {
	qs, err := r.redis.LRange(ctx, r.key(theme), 0, MaxRecentPerTheme-1).Result()
	if err != nil {
		return nil, fmt.Errorf("question: list recent: %w", err)
	}

	return qs, nil
}

// Add records q as the newest question of theme and forgets the oldest beyond
// MaxRecentPerTheme.
func (r *Recent) Add(ctx context.Context, theme, q string) error {
	_, err := r.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, r.key(theme), 0, q)
		p.LPush(ctx, r.key(theme), q)
		p.LTrim(ctx, r.key(theme), 0, MaxRecentPerTheme-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("question: add recent: %w", err)
	}

	return nil
}

func (r *Recent) key(theme string) string {
	return fmt.Sprintf("%s:questions:%s", r.prefix, theme)
}
