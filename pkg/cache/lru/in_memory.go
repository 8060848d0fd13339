package lru

import (
	"container/list"
	"context"
	"sync"
)

type entry[Key comparable, Value any] struct {
	key   Key
	value Value
}

// CacheLRUInMemory keeps up to cap values in memory and evicts the least
// recently used one on overflow
//
// It uses given key and value types, e.g. string and models.Order
//
// sync.Mutex instead of RWMutex because Get also mutates the recency list
type CacheLRUInMemory[Key comparable, Value any] struct {
	data    map[Key]*list.Element
	recency *list.List
	mu      sync.Mutex
	cap     int
}

// NewCacheLRUInMemory creates an empty cache with the given capacity
func NewCacheLRUInMemory[Key comparable, Value any](cacheCapacity int) *CacheLRUInMemory[Key, Value] {
	return &CacheLRUInMemory[Key, Value]{
		data:    make(map[Key]*list.Element),
		recency: list.New(),
		cap:     cacheCapacity,
	}
}

// Get returns the cached value and whether it was found,
// marking it most recently used
func (c *CacheLRUInMemory[Key, Value]) Get(_ context.Context, key Key) (Value, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.data[key]
	if !ok {
		return *new(Value), false, nil
	}

	c.recency.MoveToFront(elem)
	return elem.Value.(entry[Key, Value]).value, true, nil
}

// Set saves the value as the most recently used, evicting the least recently
// used one if the cache is full
func (c *CacheLRUInMemory[Key, Value]) Set(_ context.Context, key Key, value Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.data[key]; ok {
		elem.Value = entry[Key, Value]{key: key, value: value}
		c.recency.MoveToFront(elem)
		return nil
	}

	if c.recency.Len() >= c.cap {
		last := c.recency.Back()
		if last != nil {
			delete(c.data, last.Value.(entry[Key, Value]).key)
			c.recency.Remove(last)
		}
	}

	c.data[key] = c.recency.PushFront(entry[Key, Value]{key: key, value: value})
	return nil
}

// Delete drops the key if it is cached; deleting an absent key is a no-op
func (c *CacheLRUInMemory[Key, Value]) Delete(_ context.Context, key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.data[key]; ok {
		c.recency.Remove(elem)
		delete(c.data, key)
	}
	return nil
}

// Len returns the current amount of cached keys
func (c *CacheLRUInMemory[Key, Value]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}
