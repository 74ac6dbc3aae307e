package iam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
)

const (
	redisEntryPrefix = "rolegate:perms:entry:"
	redisUserPrefix  = "rolegate:perms:user:"
)

type redisEntry struct {
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RedisPermissionCache shares permission sets between processes through Redis.
//
// Redis expires keys server-side, but the stored expiry is still compared with
// the injected clock on read so an entry is never served past its TTL.
type RedisPermissionCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisPermissionCache wraps an existing client.
func NewRedisPermissionCache(client redis.UniversalClient, ttl time.Duration, now func() time.Time) (*RedisPermissionCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("permission cache ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &RedisPermissionCache{client: client, ttl: ttl, now: now}, nil
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisPermissionCache) Get(ctx context.Context, key string) (auth.PermissionSet, LookupResult, error) {
	raw, err := c.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, CacheMiss, nil
	}
	if err != nil {
		return nil, CacheMiss, fmt.Errorf("redis get: %w", err)
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = c.client.Del(ctx, redisEntryPrefix+key).Err()
		return nil, CacheMiss, fmt.Errorf("decode cache entry: %w", err)
	}
	if c.now().After(entry.ExpiresAt) {
		_ = c.client.Del(ctx, redisEntryPrefix+key).Err()
		return nil, CacheExpired, nil
	}
	return auth.NewPermissionSet(entry.Permissions...), CacheHit, nil
}

func (c *RedisPermissionCache) Set(ctx context.Context, key, userID string, perms auth.PermissionSet) error {
	now := c.now()
	raw, err := json.Marshal(redisEntry{
		Permissions: perms.Sorted(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisEntryPrefix+key, raw, c.ttl)
		if userID != "" {
			pipe.SAdd(ctx, redisUserPrefix+userID, key)
			pipe.Expire(ctx, redisUserPrefix+userID, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisPermissionCache) Track(ctx context.Context, key, userID string) error {
	if userID == "" {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisUserPrefix+userID, key)
		pipe.Expire(ctx, redisUserPrefix+userID, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis track: %w", err)
	}
	return nil
}

func (c *RedisPermissionCache) InvalidateUser(ctx context.Context, userID string) (int, error) {
	keys, err := c.client.SMembers(ctx, redisUserPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers: %w", err)
	}

	targets := make([]string, 0, len(keys))
	for _, k := range keys {
		targets = append(targets, redisEntryPrefix+k)
	}

	removed := 0
	if len(targets) > 0 {
		n, err := c.client.Del(ctx, targets...).Result()
		if err != nil {
			return 0, fmt.Errorf("redis del: %w", err)
		}
		removed = int(n)
	}
	if err := c.client.Del(ctx, redisUserPrefix+userID).Err(); err != nil {
		return removed, fmt.Errorf("redis del user index: %w", err)
	}
	return removed, nil
}

func (c *RedisPermissionCache) InvalidateRoles(ctx context.Context, roles []string) (int, error) {
	if len(roles) == 0 {
		return 0, nil
	}
	targets := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		targets[r] = struct{}{}
	}

	var doomed []string
	err := c.scan(ctx, redisEntryPrefix+"*", func(redisKey string) {
		if keyContainsAny(strings.TrimPrefix(redisKey, redisEntryPrefix), targets) {
			doomed = append(doomed, redisKey)
		}
	})
	if err != nil {
		return 0, err
	}
	return c.del(ctx, doomed)
}

func (c *RedisPermissionCache) Cleanup(ctx context.Context) (int, error) {
	now := c.now()
	var doomed []string
	err := c.scan(ctx, redisEntryPrefix+"*", func(redisKey string) {
		entry, ok := c.peek(ctx, redisKey)
		if ok && now.After(entry.ExpiresAt) {
			doomed = append(doomed, redisKey)
		}
	})
	if err != nil {
		return 0, err
	}
	return c.del(ctx, doomed)
}

func (c *RedisPermissionCache) Clear(ctx context.Context) error {
	var doomed []string
	err := c.scan(ctx, "rolegate:perms:*", func(redisKey string) {
		doomed = append(doomed, redisKey)
	})
	if err != nil {
		return err
	}
	_, err = c.del(ctx, doomed)
	return err
}

func (c *RedisPermissionCache) Stats(ctx context.Context) (CacheStats, error) {
	stats := CacheStats{
		Backend:    "redis",
		TTLSeconds: c.ttl.Seconds(),
	}

	err := c.scan(ctx, redisEntryPrefix+"*", func(redisKey string) {
		entry, ok := c.peek(ctx, redisKey)
		if !ok {
			return
		}
		stats.TotalEntries++
		if stats.OldestEntry == nil || entry.CreatedAt.Before(*stats.OldestEntry) {
			created := entry.CreatedAt
			stats.OldestEntry = &created
		}
	})
	if err != nil {
		return stats, err
	}

	err = c.scan(ctx, redisUserPrefix+"*", func(string) {
		stats.UsersTracked++
	})
	return stats, err
}

func (c *RedisPermissionCache) peek(ctx context.Context, redisKey string) (redisEntry, bool) {
	var entry redisEntry
	raw, err := c.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		return entry, false
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return entry, false
	}
	return entry, true
}

func (c *RedisPermissionCache) scan(ctx context.Context, match string, fn func(string)) error {
	iter := c.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		fn(iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

func (c *RedisPermissionCache) del(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}
