package server

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenStore counts login attempts in Redis so the limit holds across
// replicas. Each key is INCRed and given the window as TTL on first use; the
// remaining TTL becomes the Retry-After hint once the limit is exceeded.
type redisTokenStore struct {
	client  *redis.Client
	timeout time.Duration
}

func newRedisTokenStore(addr, password string, timeout time.Duration) *redisTokenStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return &redisTokenStore{client: client, timeout: timeout}
}

func (s *redisTokenStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl <= 0 {
		// Key lost its expiry (for example an INCR racing a flush); fall
		// back to the full window rather than blocking forever.
		ttl = window
	}
	return false, ttl, nil
}

func (s *redisTokenStore) Close() error {
	return s.client.Close()
}
