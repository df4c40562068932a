package loader

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// ContentCache is a read-through cache for loaded file content, keyed by
// CacheKey. Every loader keeps one so the repeated passes over a document
// during ingestion hit storage and parsers only once.
type ContentCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
	group   singleflight.Group
}

func NewContentCache() *ContentCache {
	return &ContentCache{entries: make(map[string][]byte)}
}

// GetOrFill returns the content stored under key, calling fill on a miss.
// Concurrent misses for the same key share a single fill call. Failed fills
// are not cached, so the next call tries again.
func (c *ContentCache) GetOrFill(key string, fill func() ([]byte, error)) ([]byte, error) {
	if content, ok := c.get(key); ok {
		return content, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if content, ok := c.get(key); ok {
			return content, nil
		}

		content, err := fill()
		if err != nil {
			return nil, err
		}
		c.put(key, content)
		return content, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

func (c *ContentCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.entries[key]
	return content, ok
}

func (c *ContentCache) put(key string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = content
}
