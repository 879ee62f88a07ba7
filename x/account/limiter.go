package account

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/totegamma/postbox/core"
)

// Limiter counts login attempts per key in a fixed window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

type limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// NewLimiter creates a redis backed login limiter
func NewLimiter(rdb *redis.Client, config core.Config) Limiter {
	return &limiter{rdb, config.LoginAttempts, config.LoginWindow}
}

func limiterKey(key string) string {
	return "login_attempts:" + key
}

// Allow records an attempt and reports whether it is within the limit
func (l *limiter) Allow(ctx context.Context, key string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Account.Limiter.Allow")
	defer span.End()

	k := limiterKey(key)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	return incr.Val() <= int64(l.limit), nil
}

// Reset forgets the attempts of key
func (l *limiter) Reset(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "Account.Limiter.Reset")
	defer span.End()

	err := l.rdb.Del(ctx, limiterKey(key)).Err()
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
