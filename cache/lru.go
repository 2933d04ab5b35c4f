package cache

import (
	"container/list"
	"errors"
)

// Cache is a fixed-capacity LRU keyed by any comparable type. It does no
// locking of its own, callers that share a Cache across goroutines must
// serialize every call (see img.Image).
type Cache[K comparable, V any] struct {
	capacity int
	order    *list.List // front is MRU, back is LRU
	index    map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

func New[K comparable, V any](capacity int) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, errors.New("cache capacity must be positive")
	}
	return &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[K]*list.Element, capacity),
	}, nil
}

// Get returns the value stored under key and promotes it to MRU.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	elem, found := c.index[key]
	if !found {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*entry[K, V]).value, true
}

// Peek returns the value stored under key without touching the LRU order.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	elem, found := c.index[key]
	if !found {
		var zero V
		return zero, false
	}
	return elem.Value.(*entry[K, V]).value, true
}

// Put inserts or replaces the value under key and promotes it to MRU.
// When an insert overflows the capacity the LRU slot is reused in place:
// no list element is allocated and the displaced pair is returned so that
// callers keying fixed-size buffers can recycle them.
func (c *Cache[K, V]) Put(key K, value V) (evictedKey K, evictedValue V, evicted bool) {
	if elem, found := c.index[key]; found {
		elem.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		elem := c.order.Back()
		ent := elem.Value.(*entry[K, V])
		evictedKey, evictedValue, evicted = ent.key, ent.value, true
		delete(c.index, ent.key)
		ent.key = key
		ent.value = value
		c.index[key] = elem
		c.order.MoveToFront(elem)
		return
	}

	c.index[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
	return
}

// RemoveOldest removes and returns the LRU pair, if any.
func (c *Cache[K, V]) RemoveOldest() (K, V, bool) {
	elem := c.order.Back()
	if elem == nil {
		var zeroK K
		var zeroV V
		return zeroK, zeroV, false
	}
	ent := elem.Value.(*entry[K, V])
	delete(c.index, ent.key)
	c.order.Remove(elem)
	return ent.key, ent.value, true
}

// Remove drops key from the cache if present.
func (c *Cache[K, V]) Remove(key K) bool {
	elem, found := c.index[key]
	if !found {
		return false
	}
	delete(c.index, key)
	c.order.Remove(elem)
	return true
}

func (c *Cache[K, V]) Clear() {
	c.order.Init()
	clear(c.index)
}

func (c *Cache[K, V]) Len() int {
	return c.order.Len()
}

func (c *Cache[K, V]) Cap() int {
	return c.capacity
}

// Keys returns the cached keys ordered MRU first.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry[K, V]).key)
	}
	return keys
}
