// Package lru keeps immutable contract metadata in process memory, optionally
// in front of a shared cache.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

const defaultSize = 1024

// Cache implements domain.MetadataCache with a bounded LRU. When a next tier
// is set, misses fall through to it and hits there are copied into memory.
type Cache struct {
	mem  *lru.Cache[domain.MetadataKey, []byte]
	next domain.MetadataCache
}

var _ domain.MetadataCache = (*Cache)(nil)

// New creates a Cache holding up to size entries. next may be nil.
func New(size int, next domain.MetadataCache) (*Cache, error) {
	if size <= 0 {
		size = defaultSize
	}
	mem, err := lru.New[domain.MetadataKey, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cache{mem: mem, next: next}, nil
}

// Get checks memory first, then the next tier.
func (c *Cache) Get(ctx context.Context, key domain.MetadataKey) ([]byte, bool, error) {
	if v, ok := c.mem.Get(key); ok {
		return v, true, nil
	}
	if c.next == nil {
		return nil, false, nil
	}
	v, ok, err := c.next.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	c.mem.Add(key, v)
	return v, true, nil
}

// Set writes through to every tier. The in-memory copy is kept even when
// the next tier fails.
func (c *Cache) Set(ctx context.Context, key domain.MetadataKey, value []byte) error {
	c.mem.Add(key, value)
	if c.next == nil {
		return nil
	}
	return c.next.Set(ctx, key, value)
}

// Len reports the number of entries held in memory.
func (c *Cache) Len() int { return c.mem.Len() }
