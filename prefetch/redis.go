// Redis-backed prefetch cache for multi-instance deployments.
//
// Hard TTL is delegated to Redis key expiry; Sweep is therefore a no-op
// beyond connectivity checking.

package prefetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/selasie/charon/model"
)

const redisKeyPrefix = "prefetch:"

// RedisCache implements Cache on top of go-redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions holds connection settings for the prefetch cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(messageID, fileID string) string {
	return redisKeyPrefix + messageID + ":" + fileID
}

// Get returns the live entry or nil. Redis expiry guarantees an entry
// past its TTL is gone; the explicit ExpiresAt check covers links whose
// own expiry is earlier than the key TTL.
func (c *RedisCache) Get(ctx context.Context, messageID, fileID string) (*Entry, error) {
	raw, err := c.client.Get(ctx, redisKey(messageID, fileID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	if time.Now().After(entry.ExpiresAt) {
		return nil, nil
	}
	return &entry, nil
}

// TryClaim uses SET NX so exactly one resolver owns each key at a time.
// Stale pending claims and error cooldowns expire via the key TTL.
func (c *RedisCache) TryClaim(ctx context.Context, messageID, fileID string) (bool, error) {
	now := time.Now()
	entry := Entry{
		MessageID:  messageID,
		FileID:     fileID,
		Status:     StatusPending,
		ResolvedAt: now,
		ExpiresAt:  now.Add(c.ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to encode cache entry: %w", err)
	}

	ok, err := c.client.SetNX(ctx, redisKey(messageID, fileID), raw, pendingStaleAfter).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim failed: %w", err)
	}
	return ok, nil
}

// Complete overwrites the claim with the resolved link.
func (c *RedisCache) Complete(ctx context.Context, messageID, fileID string, link model.IssuedLink) error {
	now := time.Now()
	expires := now.Add(c.ttl)
	if !link.ExpiresAt.IsZero() && link.ExpiresAt.Before(expires) {
		expires = link.ExpiresAt
	}

	entry := Entry{
		MessageID:  messageID,
		FileID:     fileID,
		Link:       link,
		Status:     StatusComplete,
		ResolvedAt: now,
		ExpiresAt:  expires,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := c.client.Set(ctx, redisKey(messageID, fileID), raw, time.Until(expires)).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Fail records the error with the cooldown as its TTL.
func (c *RedisCache) Fail(ctx context.Context, messageID, fileID string) error {
	now := time.Now()
	entry := Entry{
		MessageID:  messageID,
		FileID:     fileID,
		Status:     StatusError,
		ResolvedAt: now,
		ExpiresAt:  now.Add(errorCooldown),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := c.client.Set(ctx, redisKey(messageID, fileID), raw, errorCooldown).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis evicts expired keys itself.
func (c *RedisCache) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}
