package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	start := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	c.Advance(-2 * time.Minute)
	assert.Equal(t, start.Add(-30*time.Second), c.Now())

	later := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

// Run with '-race' flag to detect race conditions.
func TestMockClock_Concurrent(t *testing.T) {
	start := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
			_ = c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(50*time.Second), c.Now())
}
