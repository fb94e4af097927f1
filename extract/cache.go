package extract

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 256

// Cache memoizes Parse by message content so a renderer can ask for blocks on
// every frame without rescanning unchanged text. Returned Blocks are shared
// and must not be modified.
type Cache struct {
	lru *lru.Cache[[sha256.Size]byte, Blocks]
}

// NewCache returns a cache holding up to size parsed messages. A size <= 0
// uses DefaultCacheSize.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[[sha256.Size]byte, Blocks](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// Parse returns the cached result for content, parsing it on a miss.
func (c *Cache) Parse(content string) Blocks {
	key := sha256.Sum256([]byte(content))
	if b, ok := c.lru.Get(key); ok {
		return b
	}
	b := Parse(content)
	c.lru.Add(key, b)
	return b
}

func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) Purge() { c.lru.Purge() }
