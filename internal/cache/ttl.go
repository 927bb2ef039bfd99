// Package cache holds the short-lived read caches owned by the bot loop.
//
// Nothing here is safe for concurrent use. A TTL cache belongs to the single
// goroutine that runs the conversation loop; other goroutines reach it only
// through the invalidation bridge.
package cache

import "time"

type entry[V any] struct {
	value     V
	writtenAt time.Time
}

// TTL is a key/value map whose entries read as missing once they are older
// than the configured ttl. Stale entries stay in the map until the next Put
// or Invalidate for their key.
type TTL[K comparable, V any] struct {
	ttl     time.Duration
	now     func() time.Time
	entries map[K]entry[V]
}

func New[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[K]entry[V]),
	}
}

// WithClock replaces the time source. Used by tests.
func (c *TTL[K, V]) WithClock(now func() time.Time) *TTL[K, V] {
	c.now = now
	return c
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.writtenAt) > c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTL[K, V]) Put(key K, value V) {
	c.entries[key] = entry[V]{value: value, writtenAt: c.now()}
}

// Invalidate removes key and reports whether an entry was present.
func (c *TTL[K, V]) Invalidate(key K) bool {
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear drops every entry and returns how many were held.
func (c *TTL[K, V]) Clear() int {
	n := len(c.entries)
	clear(c.entries)
	return n
}

func (c *TTL[K, V]) Len() int {
	return len(c.entries)
}
