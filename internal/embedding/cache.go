package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync"
)

// EmbeddingCache is an LRU cache for embeddings.
type EmbeddingCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value Embedding
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a copy of the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) (*Embedding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		e := elem.Value.(*cacheEntry).value
		return &Embedding{Vector: slices.Clone(e.Vector), Model: e.Model}, true
	}
	return nil, false
}

// Set stores a copy of value for key, evicting the least recently used entry if at capacity.
func (c *EmbeddingCache) Set(key string, value *Embedding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := Embedding{Vector: slices.Clone(value.Vector), Model: value.Model}
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = stored
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: stored})
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the number of cached entries.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CachingAdapter memoizes an Adapter by (model, image content hash). Errors are not cached.
type CachingAdapter struct {
	Adapter
	cache *EmbeddingCache
}

// NewCachingAdapter wraps inner with an LRU cache of the given capacity.
func NewCachingAdapter(inner Adapter, capacity int) *CachingAdapter {
	return &CachingAdapter{Adapter: inner, cache: NewEmbeddingCache(capacity)}
}

// Embed returns the cached embedding for image under model or computes and caches it.
func (c *CachingAdapter) Embed(ctx context.Context, image []byte, model string) (*Embedding, error) {
	key := cacheKey(model, image)
	if e, ok := c.cache.Get(key); ok {
		return e, nil
	}
	e, err := c.Adapter.Embed(ctx, image, model)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, e)
	return e, nil
}

func cacheKey(model string, image []byte) string {
	sum := sha256.Sum256(image)
	return model + ":" + hex.EncodeToString(sum[:])
}
