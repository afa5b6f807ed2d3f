package runlock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
)

// ErrNotObtained is returned when another instance holds the lock. Callers
// treat it as expected contention, not a failure.
var ErrNotObtained = redislock.ErrNotObtained

// Lock is a held run lock. Release frees it early; otherwise the TTL does.
type Lock interface {
	Release(ctx context.Context) error
}

// Service hands out per-tenant run locks backed by redis. The TTL is the
// crash backstop: a worker that dies without releasing still frees the
// tenant once the TTL expires.
type Service struct {
	locker *redislock.Client
}

func New(rdb *redis.Client) *Service {
	return &Service{locker: redislock.New(rdb)}
}

// Acquire blocks up to wait for the lock, retrying on a short backoff, and
// holds it for at most ttl. Returns ErrNotObtained when the wait runs out.
func (s *Service) Acquire(ctx context.Context, key string, ttl time.Duration, wait time.Duration) (Lock, error) {
	retryInterval := 500 * time.Millisecond
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	lock, err := s.locker.Obtain(waitCtx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(
			redislock.LinearBackoff(retryInterval),
			int(wait/retryInterval),
		),
	})
	if err != nil {
		return nil, normalizeObtainError(ctx, err)
	}
	return lock, nil
}

// normalizeObtainError maps an expired wait budget to ErrNotObtained.
// redislock surfaces the wait context's deadline as a plain context error
// when it fires between retries, which is still just contention. A parent
// context that is itself done keeps its own error.
func normalizeObtainError(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return ErrNotObtained
	}
	return err
}
