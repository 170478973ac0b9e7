package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errResendRateLimited = errors.New("Too many requests")

// resendLimiter is a fixed-window counter per address and purpose. The first
// request in a window sets the expiry; the cap rejects the rest.
type resendLimiter struct {
	redis       *redis.Client
	prefix      string
	window      time.Duration
	maxRequests int
}

func newResendLimiter(rdb *redis.Client, prefix string, window time.Duration, maxRequests int) *resendLimiter {
	return &resendLimiter{
		redis:       rdb,
		prefix:      prefix,
		window:      window,
		maxRequests: maxRequests,
	}
}

func (l *resendLimiter) key(purpose, email string) string {
	return l.prefix + ":resend:" + purpose + ":" + email
}

func (l *resendLimiter) Allow(ctx context.Context, purpose, email string) error {
	key := l.key(purpose, email)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", errStoreUnavailable, err)
		}
	}
	if count > int64(l.maxRequests) {
		return errResendRateLimited
	}
	return nil
}
