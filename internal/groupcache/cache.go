// Package groupcache is a bounded, expiring cache of group metadata handed
// to the Transport so it can skip metadata round-trips.
package groupcache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/matheus3301/wpprelay/internal/transport"
)

const (
	DefaultSize = 512
	DefaultTTL  = 5 * time.Minute
)

// Cache maps group ids to metadata. It is safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, *transport.GroupMetadata]
}

// New creates a cache holding at most size entries, each for ttl.
// Non-positive arguments fall back to the defaults.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, *transport.GroupMetadata](size, nil, ttl)}
}

// Get returns the cached metadata. Expired entries are reported as absent.
func (c *Cache) Get(groupID string) (*transport.GroupMetadata, bool) {
	return c.lru.Get(groupID)
}

// Add stores metadata for groupID, replacing any previous entry.
func (c *Cache) Add(groupID string, md *transport.GroupMetadata) {
	if md == nil {
		return
	}
	c.lru.Add(groupID, md)
}

// Remove drops groupID from the cache.
func (c *Cache) Remove(groupID string) {
	c.lru.Remove(groupID)
}

// Len returns the number of entries, including ones not yet evicted.
func (c *Cache) Len() int {
	return c.lru.Len()
}

var _ transport.GroupLookup = (*Cache)(nil)
