package mcpproxy

import (
	"container/list"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/infergate/infergate/models"
)

const (
	toolCacheSize = 64
	toolCacheTTL  = 30 * time.Second
)

// toolCache memoizes upstream tool listings so repeated tools/list requests
// do not fan out to every server every time. Entries hold the unfiltered
// upstream listing; authorization filtering happens per request on the way
// out, so nothing identity-specific is ever cached.
type toolCache struct {
	mu      sync.Mutex
	entries map[string]*toolCacheEntry
	lru     *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type toolCacheEntry struct {
	tools      []mcp.Tool
	insertedAt time.Time
	element    *list.Element
}

func newToolCache(maxSize int, ttl time.Duration) *toolCache {
	return &toolCache{
		entries: make(map[string]*toolCacheEntry),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// toolCacheKey identifies one backend session the same way the client pool
// does. A reload that points a backend name somewhere else changes the key,
// so stale listings are never served for the new address.
func toolCacheKey(b *models.Backend) string {
	return b.Name + "|" + string(b.Transport) + "|" + b.BaseURL
}

// get returns the cached listing for key. Expired entries are dropped on
// the spot and reported as misses.
func (c *toolCache) get(key string) ([]mcp.Tool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.remove(key)
		return nil, false
	}

	c.lru.MoveToFront(entry.element)
	return entry.tools, true
}

// set stores a listing, refreshing in place when the key is already present
// and evicting the least recently used entry at capacity.
func (c *toolCache) set(key string, tools []mcp.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.tools = tools
		entry.insertedAt = c.now()
		c.lru.MoveToFront(entry.element)
		return
	}

	if c.lru.Len() >= c.maxSize {
		if back := c.lru.Back(); back != nil {
			c.remove(back.Value.(string))
		}
	}

	c.entries[key] = &toolCacheEntry{
		tools:      tools,
		insertedAt: c.now(),
		element:    c.lru.PushFront(key),
	}
}

// remove expects the lock to be held.
func (c *toolCache) remove(key string) {
	if entry, ok := c.entries[key]; ok {
		c.lru.Remove(entry.element)
		delete(c.entries, key)
	}
}

func (c *toolCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
