package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// Redis holds keys as redislock leases so several API instances share one
// lock space.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	prefix string
	logger logrus.FieldLogger
}

func NewRedis(client redislock.RedisClient, ttl time.Duration, logger logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{
		client: redislock.New(client),
		ttl:    ttl,
		prefix: "shopstock:lock:",
		logger: logger,
	}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = normalize(keys)
	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.WithField("key", held[i].Key()).Warnf("release lock: %v", err)
			}
		}
	}

	opts := &redislock.Options{RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond)}
	for _, key := range keys {
		l, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, opts)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrBusy, key)
			}
			return nil, err
		}
		held = append(held, l)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		release()
	}, nil
}
