package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Entry holds a cached value with its expiry.
type Entry[V any] struct {
	Value     V         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LRU is a thread-safe least-recently-used cache with a per-entry TTL.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List
	now      func() time.Time
}

type node[V any] struct {
	key   string
	entry Entry[V]
}

// NewLRU creates a cache holding at most capacity entries, each living for ttl.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = 128
	}
	return &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the live value for key and marks it recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	n := elem.Value.(*node[V])
	if c.now().After(n.entry.ExpiresAt) {
		c.order.Remove(elem)
		delete(c.items, key)
		return zero, false
	}
	c.order.MoveToFront(elem)
	return n.entry.Value, true
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry[V]{Value: value, ExpiresAt: c.now().Add(c.ttl)}
	if elem, ok := c.items[key]; ok {
		elem.Value.(*node[V]).entry = entry
		c.order.MoveToFront(elem)
		return
	}
	c.items[key] = c.order.PushFront(&node[V]{key: key, entry: entry})
	c.evict()
}

func (c *LRU[V]) evict() {
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*node[V]).key)
	}
}

// Len returns the number of entries, expired ones included until they are touched.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops every entry.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}

// Dump snapshots the live entries for persistence.
func (c *LRU[V]) Dump() map[string]Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make(map[string]Entry[V], len(c.items))
	for k, elem := range c.items {
		if e := elem.Value.(*node[V]).entry; !now.After(e.ExpiresAt) {
			out[k] = e
		}
	}
	return out
}

// Restore replaces the contents with dump, skipping expired entries.
func (c *LRU[V]) Restore(dump map[string]Entry[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
	now := c.now()
	for k, e := range dump {
		if now.After(e.ExpiresAt) {
			continue
		}
		c.items[k] = c.order.PushFront(&node[V]{key: k, entry: e})
	}
	c.evict()
}

// HashKey derives a fixed-size cache key from arbitrary text.
func HashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
