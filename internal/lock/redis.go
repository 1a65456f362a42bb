package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/coach-server-go/internal/util"
)

const (
	lockKeyPrefix      = "lock:"
	defaultRetryPeriod = 50 * time.Millisecond
)

// Release only when the caller still owns the lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every instance pointing at the same Redis.
// Holders that outlive ttl lose the lock.
type RedisLocker struct {
	client      redis.UniversalClient
	ttl         time.Duration
	retryPeriod time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:      client,
		ttl:         ttl,
		retryPeriod: defaultRetryPeriod,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	owner, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate lock owner: %w", err)
	}
	redisKey := lockKeyPrefix + key

	ticker := time.NewTicker(l.retryPeriod)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, owner, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, owner).Err(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to release lock")
			}
		})
	}, nil
}
