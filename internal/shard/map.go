// Package shard provides a string-keyed map split into independently locked
// shards. The shard lock only guards membership; values are expected to carry
// their own synchronization so that work on one key never waits on another.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultShards = 32

type Map[V any] struct {
	shards []bucket[V]
	mask   uint64
}

type bucket[V any] struct {
	mu    sync.RWMutex
	items map[string]*V
}

// New returns a Map with n shards, rounded up to a power of two.
func New[V any](n int) *Map[V] {
	size := 1
	for size < n {
		size <<= 1
	}
	m := &Map[V]{
		shards: make([]bucket[V], size),
		mask:   uint64(size - 1),
	}
	for i := range m.shards {
		m.shards[i].items = make(map[string]*V)
	}
	return m
}

func (m *Map[V]) bucket(key string) *bucket[V] {
	return &m.shards[xxhash.Sum64String(key)&m.mask]
}

func (m *Map[V]) Get(key string) (*V, bool) {
	b := m.bucket(key)
	b.mu.RLock()
	v, ok := b.items[key]
	b.mu.RUnlock()
	return v, ok
}

// GetOrCreate returns the value stored under key, calling create under the
// shard write lock when it is missing. The second result reports whether the
// value was created by this call.
func (m *Map[V]) GetOrCreate(key string, create func() *V) (*V, bool) {
	b := m.bucket(key)
	b.mu.RLock()
	v, ok := b.items[key]
	b.mu.RUnlock()
	if ok {
		return v, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Another goroutine may have created it while we were waiting.
	if v, ok := b.items[key]; ok {
		return v, false
	}
	v = create()
	b.items[key] = v
	return v, true
}

// Range calls fn for every entry, one shard at a time. fn must not call back
// into the map.
func (m *Map[V]) Range(fn func(key string, v *V)) {
	for i := range m.shards {
		b := &m.shards[i]
		b.mu.RLock()
		for k, v := range b.items {
			fn(k, v)
		}
		b.mu.RUnlock()
	}
}

func (m *Map[V]) Len() int {
	n := 0
	for i := range m.shards {
		b := &m.shards[i]
		b.mu.RLock()
		n += len(b.items)
		b.mu.RUnlock()
	}
	return n
}

func (m *Map[V]) Shards() int { return len(m.shards) }
