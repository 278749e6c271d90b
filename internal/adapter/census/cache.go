package census

import (
	"context"
	"sync"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
)

// CachedNamer wraps an AreaNamer with an in-memory LRU cache.
type CachedNamer struct {
	inner   domain.AreaNamer
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedNamer creates a cache decorator around a namer.
func NewCachedNamer(inner domain.AreaNamer, maxEntries int, metrics *observability.Metrics) *CachedNamer {
	return &CachedNamer{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedNamer) AreaName(ctx context.Context, code string) (string, error) {
	if name, ok := c.cache.get(code); ok {
		c.metrics.AreaNameCache.WithLabelValues("hit").Inc()
		return name, nil
	}
	c.metrics.AreaNameCache.WithLabelValues("miss").Inc()

	name, err := c.inner.AreaName(ctx, code)
	if err != nil {
		return "", err
	}
	// Only cache non-empty names so unknown codes can be retried.
	if name != "" {
		c.cache.put(code, name)
	}
	return name, nil
}

// lruCache is a simple thread-safe LRU cache of names by code.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value string
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
