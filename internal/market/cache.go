package market

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned when a value cannot be fetched and no cached
// copy recent enough to serve exists.
var ErrUnavailable = errors.New("market data unavailable")

// defaultStaleFactor bounds how long a stale cached value may be served
// after refreshes start failing, as a multiple of the TTL.
const defaultStaleFactor = 3

// FetchFunc loads a fresh value for a key.
type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

type cacheEntry[T any] struct {
	value     T
	fetchedAt time.Time
}

// Cache is a read-through cache with bounded staleness. A value younger
// than the TTL is served directly. An expired value triggers a refresh; if
// the refresh fails, the cached value is served marked stale until it ages
// past maxStale, after which ErrUnavailable is returned.
//
// Concurrent refreshes of the same key collapse into a single fetch;
// different keys refresh independently, so one slow exchange call never
// blocks lookups for other symbols.
type Cache[T any] struct {
	mu       sync.RWMutex
	group    singleflight.Group
	fetch    FetchFunc[T]
	ttl      time.Duration
	maxStale time.Duration
	entries  map[string]cacheEntry[T]
	now      func() time.Time
}

// NewCache creates a read-through cache around fetch.
func NewCache[T any](fetch FetchFunc[T], ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		fetch:    fetch,
		ttl:      ttl,
		maxStale: defaultStaleFactor * ttl,
		entries:  make(map[string]cacheEntry[T]),
		now:      time.Now,
	}
}

func (c *Cache[T]) lookup(key string) (cacheEntry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Get returns the value for key, refreshing it when expired. The stale flag
// is set when a cached value is served because the refresh failed.
func (c *Cache[T]) Get(ctx context.Context, key string) (value T, stale bool, err error) {
	now := c.now()

	if entry, ok := c.lookup(key); ok && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.value, false, nil
	}

	fresh, fetchErr, _ := c.group.Do(key, func() (any, error) {
		// another caller may have refreshed the key while we waited
		if entry, ok := c.lookup(key); ok && c.now().Sub(entry.fetchedAt) < c.ttl {
			return entry.value, nil
		}
		v, err := c.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry[T]{value: v, fetchedAt: c.now()}
		c.mu.Unlock()
		return v, nil
	})
	if fetchErr == nil {
		return fresh.(T), false, nil
	}

	if entry, ok := c.lookup(key); ok && now.Sub(entry.fetchedAt) < c.maxStale {
		return entry.value, true, nil
	}

	var zero T
	return zero, false, errors.Wrapf(ErrUnavailable, "fetch failed for %s: %v", key, fetchErr)
}

// Invalidate drops the cached value for key, forcing the next Get to fetch.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
