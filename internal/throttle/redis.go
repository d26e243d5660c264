package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps fixed-window counters in Redis via INCR + EXPIRE. The
// expiry is set only when the counter is created so the window stays fixed
// rather than sliding with every request.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit"}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	redisKey := s.prefix + ":" + key

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("incr throttle counter: %w", err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire throttle counter: %w", err)
		}
	}

	ttl, err := s.client.TTL(ctx, redisKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ttl throttle counter: %w", err)
	}
	if ttl < 0 {
		// Counter survived without expiry (e.g. a crashed EXPIRE); re-arm it.
		if err := s.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("re-arm throttle counter: %w", err)
		}
		ttl = window
	}

	return count, ttl, nil
}
