package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// RateLimiter implements domain.RateLimiter as a fixed-window counter.
type RateLimiter struct {
	rdb    *redis.Client
	prefix string
}

// NewRateLimiter creates a RateLimiter. Counters live under "ratelimit:".
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), prefix: "ratelimit:"}
}

// Allow increments key's counter for the current window and reports whether
// it is still within limit. The window starts at the first hit.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	full := r.prefix + key
	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, full)
		p.ExpireNX(ctx, full, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
