package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uniedit/paygate/internal/shared/config"
)

// NewRedisClient creates a Redis client and checks the connection.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Close closes the Redis client.
func Close(client redis.UniversalClient) error {
	return client.Close()
}

const tokenKeyPrefix = "paygate:token:"

// TokenStore caches provider access tokens in Redis so every instance
// shares one token per provider account.
type TokenStore struct {
	client redis.UniversalClient
}

// NewTokenStore creates a Redis-backed token store.
func NewTokenStore(client redis.UniversalClient) *TokenStore {
	return &TokenStore{client: client}
}

// GetToken returns a cached token. A missing key is not an error.
func (s *TokenStore) GetToken(ctx context.Context, key string) (string, bool, error) {
	token, err := s.client.Get(ctx, tokenKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get token: %w", err)
	}
	return token, true, nil
}

// SetToken caches a token until ttl elapses.
func (s *TokenStore) SetToken(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, tokenKeyPrefix+key, token, ttl).Err(); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

// DeleteToken drops a cached token.
func (s *TokenStore) DeleteToken(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, tokenKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

const rateKeyPrefix = "paygate:ratelimit:"

// fixedWindow increments the counter for the current window and sets its
// expiry on first use, atomically.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RateLimiter is a fixed-window request limiter shared across instances.
type RateLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRateLimiter creates a Redis-backed limiter.
func NewRateLimiter(client redis.UniversalClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow counts one request for key and reports whether it fits in the
// window, with the requests left.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	bucket := l.now().UnixNano() / int64(window)
	redisKey := fmt.Sprintf("%s%s:%d", rateKeyPrefix, key, bucket)

	count, err := fixedWindow.Run(ctx, l.client, []string{redisKey}, window.Milliseconds()).Int()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit: %w", err)
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit, remaining, nil
}
