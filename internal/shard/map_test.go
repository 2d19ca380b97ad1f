package shard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	mu sync.Mutex
	n  int
}

func TestNew_RoundsUpToPowerOfTwo(t *testing.T) {
	tests := []struct {
		in       int
		expected int
	}{
		{in: 0, expected: 1},
		{in: 1, expected: 1},
		{in: 3, expected: 4},
		{in: 32, expected: 32},
		{in: 33, expected: 64},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.expected, New[counter](tt.in).Shards())
		})
	}
}

func TestGetOrCreate(t *testing.T) {
	m := New[counter](4)

	_, ok := m.Get("a")
	assert.False(t, ok)

	v, created := m.GetOrCreate("a", func() *counter { return &counter{n: 7} })
	require.True(t, created)
	assert.Equal(t, 7, v.n)

	again, created := m.GetOrCreate("a", func() *counter { return &counter{n: 99} })
	assert.False(t, created)
	assert.Same(t, v, again)

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Same(t, v, got)
	assert.Equal(t, 1, m.Len())
}

func TestRange(t *testing.T) {
	m := New[counter](8)
	for i := range 20 {
		m.GetOrCreate(fmt.Sprintf("k%d", i), func() *counter { return &counter{n: i} })
	}

	seen := map[string]int{}
	m.Range(func(key string, v *counter) { seen[key] = v.n })

	assert.Len(t, seen, 20)
	assert.Equal(t, 5, seen["k5"])
}

// TestConcurrentGetOrCreate verifies that racing creators agree on one value.
// Run with '-race' flag to detect race conditions.
func TestConcurrentGetOrCreate(t *testing.T) {
	m := New[counter](4)

	const goroutines = 50
	const keys = 10
	var creations atomic.Int64

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for k := range keys {
				v, _ := m.GetOrCreate(fmt.Sprintf("key-%d", k), func() *counter {
					creations.Add(1)
					return &counter{}
				})
				v.mu.Lock()
				v.n++
				v.mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(keys), creations.Load())
	assert.Equal(t, keys, m.Len())
	m.Range(func(_ string, v *counter) {
		assert.Equal(t, goroutines, v.n)
	})
}
