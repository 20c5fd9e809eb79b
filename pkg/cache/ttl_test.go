package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestTTL_Get(t *testing.T) {
	t.Run("empty cache reports absent", func(t *testing.T) {
		c := New[string]()
		_, ok := c.Get("anything")
		assert.False(t, ok)
	})

	t.Run("no ttl never expires", func(t *testing.T) {
		clock := newFakeClock()
		c := New[string](WithClock(clock.Now))
		c.Set("k", "v", NoExpiry)

		clock.Advance(24 * 365 * time.Hour)
		v, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})

	t.Run("entry expires after ttl and is removed", func(t *testing.T) {
		clock := newFakeClock()
		c := New[string](WithClock(clock.Now))
		c.Set("k", "v", time.Minute)

		clock.Advance(59 * time.Second)
		v, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)

		clock.Advance(2 * time.Second)
		assert.Equal(t, 1, c.Len(), "expired entry stays until read")
		_, ok = c.Get("k")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len(), "read must delete the expired entry")
	})

	t.Run("hit does not refresh ttl", func(t *testing.T) {
		clock := newFakeClock()
		c := New[int](WithClock(clock.Now))
		c.Set("k", 1, time.Minute)

		clock.Advance(50 * time.Second)
		_, ok := c.Get("k")
		require.True(t, ok)

		clock.Advance(20 * time.Second)
		_, ok = c.Get("k")
		assert.False(t, ok)
	})
}

func TestTTL_Set(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithClock(clock.Now))

	c.Set("k", "old", time.Minute)
	c.Set("k", "new", NoExpiry)

	clock.Advance(time.Hour)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, c.Len())
}

func TestTTL_Delete(t *testing.T) {
	c := New[string]()
	c.Set("a", "1", time.Hour)
	c.Set("b", "2", NoExpiry)

	c.Delete("a")
	c.Delete("b")
	c.Delete("missing")

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTL_Stats(t *testing.T) {
	c := New[string]()
	c.Set("k", "v", NoExpiry)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, "memory", stats.Backend)
	assert.EqualValues(t, 1, stats.Entries)
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestTTL_Close(t *testing.T) {
	c := New[string]()
	c.Set("k", "v", NoExpiry)
	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
}

func TestTTL_Concurrent(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%10)
				c.Set(key, i, time.Minute)
				c.Get(key)
				if j%7 == 0 {
					c.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 10)
}
