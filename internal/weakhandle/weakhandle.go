// Package weakhandle implements a refreshable handle cache standing in for
// Python's arbitrary-object weak references, which Go does not provide.
// Each key maps to a lazily (re)created value; callers Acquire a handle
// (bumping a reference count) and Release it when done. A value with a zero
// reference count is not freed immediately -- it is kept warm in an LRU
// arena and only evicted once it has been idle for a full Later cycle (or
// the arena is over capacity), at which point the next Acquire transparently
// recreates it. This mirrors AsyncRefreshableWeakRef's strong/weak swap: the
// object behaves as if garbage collected after a period of disuse, but the
// Go side has to decide that period and enforce it explicitly via Later
// rather than relying on a GC weakref callback.
package weakhandle

import (
	"container/list"
	"context"
	"sync"

	"github.com/ash2txt/htreefs/internal/later"
)

// idleTicks is how many Later ticks an unreferenced entry survives before
// eviction, matching the 60-tick re-arm window of the original
// AsyncRefreshableWeakRef.
const idleTicks = 60

type entry[T any] struct {
	value    T
	refcount int
	elem     *list.Element // position in lru; elem.Value is the key
}

// Cache maps keys to lazily created, reference-counted values of type T.
type Cache[K comparable, T any] struct {
	mu       sync.Mutex
	create   func(K) (T, error)
	lt       *later.Later
	capacity int

	items map[K]*entry[T]
	lru   *list.List // front = most recently released
}

// New returns a Cache that recreates a value with create on first Acquire
// (or after eviction), refreshing recreated values via the given Later
// scheduler. capacity bounds how many unreferenced entries the arena keeps
// warm regardless of idle time; referenced entries are never evicted.
func New[K comparable, T any](create func(K) (T, error), lt *later.Later, capacity int) *Cache[K, T] {
	return &Cache[K, T]{
		create:   create,
		lt:       lt,
		capacity: capacity,
		items:    make(map[K]*entry[T]),
		lru:      list.New(),
	}
}

// Release decrements the reference count acquired for k and, once it drops
// to zero, arms the idle-eviction backstop for that entry.
type Release func()

// Acquire returns the value for k, creating it via the Cache's create
// function if it is not already warm, along with a Release func the caller
// must call exactly once when done with the value.
func (c *Cache[K, T]) Acquire(k K) (T, Release, error) {
	c.mu.Lock()

	e, ok := c.items[k]
	if !ok {
		c.mu.Unlock()
		v, err := c.create(k)
		if err != nil {
			var zero T
			return zero, func() {}, err
		}
		c.mu.Lock()
		// Another goroutine may have created it while we were unlocked;
		// prefer the existing entry to avoid duplicate live values.
		if existing, ok := c.items[k]; ok {
			e = existing
		} else {
			e = &entry[T]{value: v}
			c.items[k] = e
		}
	}

	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
	e.refcount++
	value := e.value
	c.mu.Unlock()

	released := false
	return value, func() {
		if released {
			return
		}
		released = true
		c.release(k)
	}, nil
}

func (c *Cache[K, T]) release(k K) {
	c.mu.Lock()
	e, ok := c.items[k]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.refcount--
	if e.refcount > 0 {
		c.mu.Unlock()
		return
	}

	e.elem = c.lru.PushFront(k)
	c.evictOverCapacityLocked()
	c.mu.Unlock()

	if c.lt != nil {
		c.lt.Once(func(context.Context) {
			c.evictIfStillIdle(k)
		}, idleTicks)
	}
}

// evictOverCapacityLocked drops least-recently-released entries beyond
// capacity. Must be called with c.mu held.
func (c *Cache[K, T]) evictOverCapacityLocked() {
	if c.capacity <= 0 {
		return
	}
	for c.lru.Len() > c.capacity {
		back := c.lru.Back()
		if back == nil {
			return
		}
		k := back.Value.(K)
		c.lru.Remove(back)
		delete(c.items, k)
	}
}

func (c *Cache[K, T]) evictIfStillIdle(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[k]
	if !ok || e.refcount > 0 || e.elem == nil {
		return
	}
	c.lru.Remove(e.elem)
	delete(c.items, k)
}

// Len reports how many entries (referenced or idle) the cache currently
// holds, for tests.
func (c *Cache[K, T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
