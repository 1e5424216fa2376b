package download

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	body    []byte
	err     error
	fetched time.Time
}

// responseCache keeps recent responses keyed by (url, mode). Concurrent
// requests for the same key coalesce onto one in-flight fetch via
// singleflight; every waiter beyond the first counts as a cache hit.
type responseCache struct {
	ttl   time.Duration
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*cacheEntry

	hits atomic.Uint64
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
	}
}

func cacheKey(url string, mode Mode) string {
	return fmt.Sprintf("%d:%s", mode, url)
}

// get returns the cached body or runs fetch once for all concurrent
// callers.
func (c *responseCache) get(url string, mode Mode, fetch func() ([]byte, error)) ([]byte, error, bool) {
	key := cacheKey(url, mode)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && time.Since(entry.fetched) < c.ttl {
		c.mu.Unlock()
		c.hits.Add(1)
		return entry.body, entry.err, true
	}
	c.mu.Unlock()

	body, err, shared := c.group.Do(key, func() (any, error) {
		body, err := fetch()
		c.mu.Lock()
		c.entries[key] = &cacheEntry{body: body, err: err, fetched: time.Now()}
		c.mu.Unlock()
		return body, err
	})
	if shared {
		c.hits.Add(1)
	}

	var bytes []byte
	if body != nil {
		bytes = body.([]byte)
	}
	return bytes, err, shared
}

// Hits returns how many requests were answered without a fetch.
func (c *responseCache) Hits() uint64 {
	return c.hits.Load()
}
