package cache

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewLRUCache(t *testing.T) {
	cfg := DefaultConfig()
	c := NewLRUCache(cfg)

	assert.NotNil(t, c)
	assert.Equal(t, cfg.ShardCount, len(c.shards))
	assert.False(t, c.IsRunning())
}

func TestLRUCache_BasicOperations(t *testing.T) {
	c := NewLRUCache(DefaultConfig())

	c.Set("key1", "value1", time.Hour)

	value, exists := c.Get("key1")
	assert.True(t, exists)
	assert.Equal(t, "value1", value)

	assert.True(t, c.Exists("key1"))
	assert.False(t, c.Exists("missing"))

	assert.True(t, c.Delete("key1"))
	assert.False(t, c.Exists("key1"))
}

func TestLRUCache_Expiration(t *testing.T) {
	c := NewLRUCache(DefaultConfig())
	c.Set("key1", "value1", 10*time.Millisecond)

	_, exists := c.Get("key1")
	assert.True(t, exists)

	time.Sleep(20 * time.Millisecond)

	_, exists = c.Get("key1")
	assert.False(t, exists)
}

func TestLRUCache_EvictLRU(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShardCount = 1
	c := NewLRUCache(cfg)

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("key%d", i), i, time.Hour)
	}
	assert.Equal(t, 5, c.Size())

	evicted := c.EvictLRU(2)
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 3, c.Size())
}

func TestLRUCache_Clear(t *testing.T) {
	c := NewLRUCache(DefaultConfig())
	c.Set("key1", "value1", time.Hour)
	c.Set("key2", "value2", time.Hour)

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestLRUCache_Stats(t *testing.T) {
	c := NewLRUCache(DefaultConfig())
	c.Set("key1", "value1", time.Hour)

	c.Get("key1")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestLRUCache_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 5 * time.Millisecond
	c := NewLRUCache(cfg)

	assert.NoError(t, c.Start())
	assert.Error(t, c.Start())
	assert.True(t, c.IsRunning())

	assert.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	c := NewLRUCache(DefaultConfig())
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "key" + strconv.Itoa(i)
			c.Set(key, i, time.Hour)
			c.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, c.Size())
}
