package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// getTestRedisClient returns a Redis client for testing.
// Returns nil if Redis is not available.
func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
		return nil
	}

	return client
}

func TestRedis_SetAndGet(t *testing.T) {
	client := getTestRedisClient(t)
	if client == nil {
		return
	}
	defer client.Close()

	store := NewRedisWithClient(client)
	ns := Namespace(store, "test_trygql")
	ctx := context.Background()
	defer ns.Clear(ctx)

	if err := ns.Set(ctx, "key", []byte("value"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, found, err := ns.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("expected to find entry")
	}
	if string(got) != "value" {
		t.Errorf("Get() = %s, want value", got)
	}

	ttl, err := client.TTL(ctx, "test_trygql:key").Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}
}

func TestRedis_GetMiss(t *testing.T) {
	client := getTestRedisClient(t)
	if client == nil {
		return
	}
	defer client.Close()

	store := NewRedisWithClient(client)

	_, found, err := store.Get(context.Background(), "test_trygql:missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("expected miss")
	}
	if store.GetStats().Misses != 1 {
		t.Errorf("Misses = %d, want 1", store.GetStats().Misses)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"resolver_cache:", `resolver_cache:*`},
		{"", `*`},
		{"ns*:", `ns\*:*`},
		{"a?b[c]:", `a\?b\[c\]:*`},
		{`back\slash:`, `back\\slash:*`},
	}

	for _, tt := range tests {
		if got := matchPattern(tt.prefix); got != tt.want {
			t.Errorf("matchPattern(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestRedis_PurgeGlobPrefix(t *testing.T) {
	client := getTestRedisClient(t)
	if client == nil {
		return
	}
	defer client.Close()

	store := NewRedisWithClient(client)
	ctx := context.Background()
	defer store.Purge(ctx, "test_trygql_glob")

	store.Set(ctx, "test_trygql_glob*:1", []byte("1"), time.Minute)
	store.Set(ctx, "test_trygql_globber:1", []byte("2"), time.Minute)

	n, err := store.Purge(ctx, "test_trygql_glob*:")
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Purge() = %d, want 1", n)
	}
	if _, found, _ := store.Get(ctx, "test_trygql_globber:1"); !found {
		t.Error("expected key outside the literal prefix to survive Purge")
	}
	if stats := store.GetStats(); stats.Sets != 2 {
		t.Errorf("Sets = %d, want 2", stats.Sets)
	}
}

func TestRedis_Purge(t *testing.T) {
	client := getTestRedisClient(t)
	if client == nil {
		return
	}
	defer client.Close()

	store := NewRedisWithClient(client)
	ctx := context.Background()

	store.Set(ctx, "test_trygql_purge:1", []byte("1"), time.Minute)
	store.Set(ctx, "test_trygql_purge:2", []byte("2"), time.Minute)

	n, err := store.Purge(ctx, "test_trygql_purge:")
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Purge() = %d, want 2", n)
	}
}

func TestNewRedis_InvalidConfig(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{})
	if err == nil {
		t.Error("expected error for missing address")
	}

	_, err = NewRedis(context.Background(), RedisConfig{URL: "not-a-url://"})
	if err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestNewRedis_ConnectionFailed(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{
		Address:     "localhost:1",
		DialTimeout: 200 * time.Millisecond,
	})
	if err == nil {
		t.Error("expected connection error")
	}
}

func TestRedisOptionsFromURL(t *testing.T) {
	opts, err := redisOptions(RedisConfig{URL: "redis://:secret@cache.internal:6380/2"})
	if err != nil {
		t.Fatalf("redisOptions() error = %v", err)
	}
	if opts.Addr != "cache.internal:6380" {
		t.Errorf("Addr = %q", opts.Addr)
	}
	if opts.Password != "secret" {
		t.Errorf("Password = %q", opts.Password)
	}
	if opts.DB != 2 {
		t.Errorf("DB = %d", opts.DB)
	}
}
