package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/scout/config"
	core "github.com/mohammad-safakhou/scout/internal/agent/core"
)

// Cache fronts Redis for two concerns: caching terminal discovery results
// per normalized query, and distributed locks so only one scheduler
// instance re-runs a scheduled query.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis.
func NewCache(cfg config.RedisConfig, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
	}
}

// Ping verifies the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error { return c.client.Close() }

func resultKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return "scout:result:" + hex.EncodeToString(sum[:8])
}

// SetResult caches a terminal discovery result for its query.
func (c *Cache) SetResult(ctx context.Context, result core.DiscoveryResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return c.client.Set(ctx, resultKey(result.OriginalQuery), payload, c.ttl).Err()
}

// GetResult returns the cached result for a query, or found=false.
func (c *Cache) GetResult(ctx context.Context, query string) (core.DiscoveryResult, bool, error) {
	raw, err := c.client.Get(ctx, resultKey(query)).Bytes()
	if err == redis.Nil {
		return core.DiscoveryResult{}, false, nil
	}
	if err != nil {
		return core.DiscoveryResult{}, false, fmt.Errorf("get result: %w", err)
	}
	var result core.DiscoveryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return core.DiscoveryResult{}, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return result, true, nil
}

// AcquireLock takes a best-effort distributed lock. The returned release
// function is a no-op when the lock was not acquired.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, func(), error) {
	key := "scout:lock:" + name
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, func() {}, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return false, func() {}, nil
	}
	release := func() {
		// best effort, the TTL reaps abandoned locks
		_ = c.client.Del(context.Background(), key).Err()
	}
	return true, release, nil
}
