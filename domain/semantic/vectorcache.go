package semantic

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// ContentHash returns the content-addressed cache key for a chunk.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// vectorCache is a bounded LRU mapping content hash to embedding vector.
// Re-indexing a root whose chunks are unchanged costs no model calls.
type vectorCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	hash   string
	vector []float32
}

func newVectorCache(maxSize int) *vectorCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &vectorCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *vectorCache) get(hash string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).vector, true
}

func (c *vectorCache) put(hash string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[hash]; ok {
		el.Value.(*cacheEntry).vector = vector
		c.order.MoveToFront(el)
		return
	}

	c.entries[hash] = c.order.PushFront(&cacheEntry{hash: hash, vector: vector})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).hash)
	}
}

func (c *vectorCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
