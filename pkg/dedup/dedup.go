// Package dedup provides a bounded set of message identifiers that have
// already been forwarded by this consumer instance.
package dedup

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Cache tracks forwarded message identifiers up to a fixed capacity. Once
// full it stops admitting new identifiers (reject-when-full, no eviction);
// lookups against identifiers stored earlier stay correct. This is a
// per-process, best-effort guard, not a distributed deduplication mechanism:
// the set is lost on restart and the same identifier may then be forwarded
// again, which is within the at-least-once contract.
//
// Cache is not safe for concurrent use. The run loop is its sole owner.
type Cache struct {
	capacity int
	seen     map[string]struct{}
	logger   zerolog.Logger
}

// New creates a Cache admitting at most capacity identifiers.
func New(capacity int, logger zerolog.Logger) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be greater than 0")
	}
	return &Cache{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
		logger:   logger.With().Str("component", "DedupCache").Logger(),
	}, nil
}

// Contains reports whether id has already been forwarded.
func (c *Cache) Contains(id string) bool {
	_, ok := c.seen[id]
	return ok
}

// Add records id as forwarded. When the cache is at capacity the identifier
// is not tracked and Add returns false after logging a warning; the consumer
// keeps running in this degraded mode.
func (c *Cache) Add(id string) bool {
	if c.seen == nil {
		return false
	}
	if _, ok := c.seen[id]; ok {
		return true
	}
	if len(c.seen) >= c.capacity {
		c.logger.Warn().
			Str("message_id", id).
			Int("capacity", c.capacity).
			Msg("Dedup cache at capacity, new identifier will not be tracked.")
		return false
	}
	c.seen[id] = struct{}{}
	return true
}

// Len returns the number of tracked identifiers.
func (c *Cache) Len() int {
	return len(c.seen)
}

// Close releases the identifier set. Further Adds are rejected.
func (c *Cache) Close() error {
	c.seen = nil
	return nil
}
