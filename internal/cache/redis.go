package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStore handles Redis-based caching of redaction outcomes
type RedisStore struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisStore creates a new Redis-based store and checks the connection.
func NewRedisStore(config *Config, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	store := &RedisStore{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.client.Ping(ctx).Err(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redaction cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize),
		zap.Duration("default_ttl", config.DefaultTTL))

	return store, nil
}

// Get looks up a cached outcome.
func (rs *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	cacheKey := rs.redisKey(key)

	data, err := rs.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		rs.misses.Add(1)
		return nil, false, nil
	} else if err != nil {
		rs.misses.Add(1)
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		rs.logger.Warn("Dropping corrupted cache entry", zap.String("key", cacheKey), zap.Error(err))
		rs.client.Del(ctx, cacheKey)
		rs.misses.Add(1)
		return nil, false, nil
	}

	rs.hits.Add(1)
	return &entry, true, nil
}

// Set stores an outcome with the configured TTL.
func (rs *RedisStore) Set(ctx context.Context, key string, entry *Entry) error {
	entry.CachedAt = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := rs.client.Set(ctx, rs.redisKey(key), data, rs.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache entry: %w", err)
	}
	return nil
}

// Stats returns cache performance statistics
func (rs *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Hits:   rs.hits.Load(),
		Misses: rs.misses.Load(),
	}
	stats.HitRate = hitRate(stats.Hits, stats.Misses)

	info, err := rs.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := rs.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// Close closes the Redis connection
func (rs *RedisStore) Close() error {
	if rs.client != nil {
		return rs.client.Close()
	}
	return nil
}

func (rs *RedisStore) redisKey(key string) string {
	return fmt.Sprintf("%s:redact:%s", rs.config.KeyPrefix, key)
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
