// Package cache provides the key-value stores backing the resolver cache and
// the upstream HTTP cache.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by stores that cannot perform an operation.
var ErrUnsupported = errors.New("operation not supported by store")

// Store is a byte-oriented key-value store with per-entry expiration.
//
// A ttl of zero or less stores the entry without expiration. Get reports a
// miss with found == false and a nil error; a non-nil error always means the
// store itself failed.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	// Purge removes every entry whose key starts with prefix.
	Purge(ctx context.Context, prefix string) (int64, error)
}

// Stats counts store operations since the store was created.
type Stats struct {
	Hits   uint64
	Misses uint64
	Sets   uint64
	Errors uint64
}

// StatsReporter is implemented by stores that count their operations.
type StatsReporter interface {
	GetStats() Stats
}

// Namespaced is a Store view whose keys are confined to one namespace of a
// shared physical store.
type Namespaced struct {
	store  Store
	prefix string
}

// Namespace wraps store so that every key is written as "<namespace>:<key>".
func Namespace(store Store, namespace string) *Namespaced {
	return &Namespaced{
		store:  store,
		prefix: namespace + ":",
	}
}

// Key returns the physical key for key.
func (n *Namespaced) Key(key string) string {
	return n.prefix + key
}

// Get retrieves a value from the namespace.
func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.store.Get(ctx, n.Key(key))
}

// Set stores a value in the namespace.
func (n *Namespaced) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.store.Set(ctx, n.Key(key), value, ttl)
}

// Delete removes a value from the namespace.
func (n *Namespaced) Delete(ctx context.Context, key string) (bool, error) {
	return n.store.Delete(ctx, n.Key(key))
}

// Purge removes entries of this namespace whose key starts with prefix.
func (n *Namespaced) Purge(ctx context.Context, prefix string) (int64, error) {
	return n.store.Purge(ctx, n.Key(prefix))
}

// Clear removes every entry of this namespace and nothing else.
func (n *Namespaced) Clear(ctx context.Context) (int64, error) {
	return n.store.Purge(ctx, n.prefix)
}
