package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection string. When set it takes
	// precedence over Address, Password and DB.
	URL string

	Address  string // Redis server address (e.g., "localhost:6379")
	Password string // Redis password (optional)
	DB       int    // Redis database number

	// DialTimeout bounds the initial connection check (default: 5 seconds)
	DialTimeout time.Duration
}

// Redis is a Store backed by a Redis server.
type Redis struct {
	client *redis.Client
	stats  *Stats
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisWithClient(client), nil
}

// NewRedisWithClient creates a store with an existing Redis client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		stats:  &Stats{},
	}
}

func redisOptions(cfg RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		return opts, nil
	}
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	return &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

// Get retrieves a value.
func (rs *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := rs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddUint64(&rs.stats.Misses, 1)
			return nil, false, nil
		}
		atomic.AddUint64(&rs.stats.Errors, 1)
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	atomic.AddUint64(&rs.stats.Hits, 1)
	return data, true, nil
}

// Set stores a value, using EX expiration when ttl is positive.
func (rs *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := rs.client.Set(ctx, key, value, ttl).Err(); err != nil {
		atomic.AddUint64(&rs.stats.Errors, 1)
		return fmt.Errorf("redis set failed: %w", err)
	}
	atomic.AddUint64(&rs.stats.Sets, 1)
	return nil
}

// Delete removes a value.
func (rs *Redis) Delete(ctx context.Context, key string) (bool, error) {
	n, err := rs.client.Del(ctx, key).Result()
	if err != nil {
		atomic.AddUint64(&rs.stats.Errors, 1)
		return false, fmt.Errorf("redis delete failed: %w", err)
	}
	return n > 0, nil
}

// Purge removes all keys starting with prefix using SCAN. Glob characters in
// prefix match literally.
func (rs *Redis) Purge(ctx context.Context, prefix string) (int64, error) {
	pattern := matchPattern(prefix)

	var cursor uint64
	var totalDeleted int64

	for {
		keys, nextCursor, err := rs.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			atomic.AddUint64(&rs.stats.Errors, 1)
			return totalDeleted, fmt.Errorf("redis scan failed: %w", err)
		}

		if len(keys) > 0 {
			deleted, err := rs.client.Del(ctx, keys...).Result()
			if err != nil {
				return totalDeleted, fmt.Errorf("redis delete failed: %w", err)
			}
			totalDeleted += deleted
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return totalDeleted, nil
}

// Close closes the Redis connection.
func (rs *Redis) Close() error {
	return rs.client.Close()
}

// GetStats returns current store statistics.
func (rs *Redis) GetStats() Stats {
	return Stats{
		Hits:   atomic.LoadUint64(&rs.stats.Hits),
		Misses: atomic.LoadUint64(&rs.stats.Misses),
		Sets:   atomic.LoadUint64(&rs.stats.Sets),
		Errors: atomic.LoadUint64(&rs.stats.Errors),
	}
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

// matchPattern returns the SCAN MATCH pattern selecting keys that start with
// prefix.
func matchPattern(prefix string) string {
	return globEscaper.Replace(prefix) + "*"
}
