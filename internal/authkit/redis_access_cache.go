package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const accessTokenKeyPrefix = "crmqs:access"

// RedisAccessTokenCache stores access tokens as Redis keys that expire on their own.
type RedisAccessTokenCache struct {
	redis  *redis.Client
	prefix string
}

// NewRedisAccessTokenCache wraps an existing client.
func NewRedisAccessTokenCache(redisClient *redis.Client) *RedisAccessTokenCache {
	return &RedisAccessTokenCache{
		redis:  redisClient,
		prefix: accessTokenKeyPrefix,
	}
}

// NewRedisAccessTokenCacheFromURL parses a redis:// URL and verifies the server answers.
func NewRedisAccessTokenCacheFromURL(ctx context.Context, redisURL string) (*RedisAccessTokenCache, error) {
	options, parseErr := redis.ParseURL(redisURL)
	if parseErr != nil {
		return nil, fmt.Errorf("token_store.redis.parse_url: %w", parseErr)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("token_store.redis.ping: %w", pingErr)
	}
	return NewRedisAccessTokenCache(client), nil
}

func (cache *RedisAccessTokenCache) key(sessionID string) string {
	return cache.prefix + ":" + sessionID
}

// Get returns the live access token for the session.
func (cache *RedisAccessTokenCache) Get(ctx context.Context, sessionID string) (string, error) {
	value, err := cache.redis.Get(ctx, cache.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrAccessTokenNotCached
		}
		return "", fmt.Errorf("token_store.redis.get: %w", err)
	}
	return value, nil
}

// Set writes the access token with a Redis expiry of ttl.
func (cache *RedisAccessTokenCache) Set(ctx context.Context, sessionID string, accessToken string, ttl time.Duration) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}
	if ttl <= 0 {
		if err := cache.redis.Del(ctx, cache.key(sessionID)).Err(); err != nil {
			return fmt.Errorf("token_store.redis.del: %w", err)
		}
		return nil
	}
	if err := cache.redis.Set(ctx, cache.key(sessionID), accessToken, ttl).Err(); err != nil {
		return fmt.Errorf("token_store.redis.set: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (cache *RedisAccessTokenCache) Close() error {
	return cache.redis.Close()
}
