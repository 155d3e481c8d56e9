package external

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mediscan/analysis-server/internal/domain"
)

// CacheClient wraps Redis as the distributed cache tier for risk
// predictions. Entries carry their own expiry so a Redis instance with
// lax eviction settings still serves fresh data only.
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client and verifies the connection.
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// cachedPrediction wraps a stored prediction with cache metadata.
type cachedPrediction struct {
	Data      *domain.RiskPrediction `json:"data"`
	CachedAt  time.Time              `json:"cached_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// Get retrieves a cached prediction. A miss is reported via the bool.
func (c *CacheClient) Get(ctx context.Context, key string) (*domain.RiskPrediction, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	var cached cachedPrediction
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Corrupted entry: drop it and treat as a miss.
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// Set caches a prediction. A zero ttl uses the configured default.
func (c *CacheClient) Set(ctx context.Context, key string, prediction *domain.RiskPrediction, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := cachedPrediction{
		Data:      prediction,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction cache data: %w", err)
	}

	return c.redis.Set(ctx, key, jsonData, ttl).Err()
}

// InvalidatePattern removes all cached entries matching a pattern.
func (c *CacheClient) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := c.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("failed to get keys for pattern %s: %w", pattern, err)
	}

	if len(keys) == 0 {
		return nil
	}

	return c.redis.Del(ctx, keys...).Err()
}

// GetStats returns cache statistics from the Redis server.
func (c *CacheClient) GetStats(ctx context.Context) (map[string]interface{}, error) {
	info, err := c.redis.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	keyspace, err := c.redis.Info(ctx, "keyspace").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis keyspace: %w", err)
	}

	return map[string]interface{}{
		"memory_info": info,
		"keyspace":    keyspace,
		"client_info": map[string]interface{}{
			"pool_stats": c.redis.PoolStats(),
		},
	}, nil
}

// Ping checks if the Redis connection is alive.
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *CacheClient) Close() error {
	return c.redis.Close()
}
