// Package recentcache retains the plaintext of recently sent messages,
// keyed by (chat, message id), so a retry-resend request can re-encrypt
// and resend without the caller having to hold the original payload
// itself. Bounded and evicted LRU-style per §5/§6.
package recentcache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize matches the teacher's own default cache sizing order of
// magnitude for a long-running process (config.RecentMessagesCacheSize
// defaults to the same 20000 in internal/config).
const DefaultSize = 20_000

type key struct {
	chatJID   string
	messageID string
}

// Cache holds recently sent plaintext messages.
type Cache struct {
	enabled bool
	lru     *lru.Cache[key, []byte]
}

// New builds a Cache with the given capacity. enabled lets callers wire
// config.EnableRecentMessageCache straight through without branching at
// every call site.
func New(size int, enabled bool) (*Cache, error) {
	if !enabled {
		return &Cache{enabled: false}, nil
	}
	c, err := lru.New[key, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cache{enabled: true, lru: c}, nil
}

// Put records plaintext for (chatJID, messageID). A no-op if the cache
// is disabled.
func (c *Cache) Put(chatJID, messageID string, plaintext []byte) {
	if !c.enabled {
		return
	}
	c.lru.Add(key{chatJID, messageID}, plaintext)
}

// Get retrieves the plaintext previously stored for (chatJID, messageID).
func (c *Cache) Get(chatJID, messageID string) ([]byte, bool) {
	if !c.enabled {
		return nil, false
	}
	return c.lru.Get(key{chatJID, messageID})
}

// Len reports how many entries are currently cached.
func (c *Cache) Len() int {
	if !c.enabled {
		return 0
	}
	return c.lru.Len()
}
