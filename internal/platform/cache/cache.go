// Package cache memoizes rendered read responses in Redis and flushes them
// when related writes succeed.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// KeyPrefix namespaces every cache entry.
const KeyPrefix = "cache:"

const scanBatch = 256

// Registry owns the named caches of one process.
type Registry struct {
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	caches map[string]*Cache

	evicting atomic.Int32
	group    singleflight.Group
}

// Option customises a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics attaches cache metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a registry whose entries live for ttl.
func NewRegistry(ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{ttl: ttl, caches: make(map[string]*Cache)}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Named returns the cache called name, creating it on first use. Evicts
// given on later calls are merged into the existing set.
func (r *Registry) Named(name string, evicts ...string) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caches[name]
	if !ok {
		c = &Cache{name: name, registry: r, evicts: make(map[string]struct{})}
		r.caches[name] = c
	}
	for _, e := range evicts {
		if e != name {
			c.evicts[e] = struct{}{}
		}
	}
	return c
}

// Evicting reports whether any eviction is in progress.
func (r *Registry) Evicting() bool {
	return r.evicting.Load() > 0
}

// Cache is one named cache.
type Cache struct {
	name     string
	registry *Registry
	// evicts is guarded by registry.mu.
	evicts map[string]struct{}
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Evicts returns the names flushed together with this cache, sorted.
func (c *Cache) Evicts() []string {
	c.registry.mu.Lock()
	defer c.registry.mu.Unlock()
	out := make([]string, 0, len(c.evicts))
	for name := range c.evicts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Key builds the storage key for an ordered tuple of key parts.
func (c *Cache) Key(parts ...any) (string, error) {
	if parts == nil {
		parts = []any{}
	}
	encoded, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("platform/cache: encode key: %w", err)
	}
	return c.prefix() + string(encoded), nil
}

func (c *Cache) prefix() string {
	return KeyPrefix + c.name + ":"
}

// Get loads the entry stored under key. A miss returns false without error.
func (c *Cache) Get(ctx context.Context, client redis.UniversalClient, key string) (Entry, bool, error) {
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("platform/cache: get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("platform/cache: decode entry: %w", err)
	}
	return entry, true, nil
}

// Set stores entry under key for the registry TTL.
func (c *Cache) Set(ctx context.Context, client redis.UniversalClient, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("platform/cache: encode entry: %w", err)
	}
	if err := client.Set(ctx, key, raw, c.registry.ttl).Err(); err != nil {
		return fmt.Errorf("platform/cache: set: %w", err)
	}
	return nil
}

// Clear deletes every entry of this cache only.
func (c *Cache) Clear(ctx context.Context, client redis.UniversalClient) error {
	return deleteByPrefix(ctx, client, c.prefix())
}

// EvictAll clears this cache and every cache in its evicts set. Caches
// reached that way do not propagate further.
func (c *Cache) EvictAll(ctx context.Context, client redis.UniversalClient) error {
	r := c.registry
	r.evicting.Add(1)
	defer r.evicting.Add(-1)

	names := append([]string{c.name}, c.Evicts()...)
	var errs []error
	for _, name := range names {
		if err := deleteByPrefix(ctx, client, KeyPrefix+name+":"); err != nil {
			errs = append(errs, fmt.Errorf("platform/cache: evict %s: %w", name, err))
			continue
		}
		r.metrics.evict(name)
	}
	return errors.Join(errs...)
}

func deleteByPrefix(ctx context.Context, client redis.UniversalClient, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
