package cache

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// LRUCache is a sharded, TTL-aware LRU cache.
type LRUCache struct {
	shards  []*shard
	config  *Config
	stats   *Stats
	running int32
	stopCh  chan struct{}
	wg      sync.WaitGroup

	globalStats struct {
		hits        int64
		misses      int64
		sets        int64
		gets        int64
		deletes     int64
		evictions   int64
		expirations int64
	}
}

// NewLRUCache builds a cache with the given config, or DefaultConfig
// when cfg is nil.
func NewLRUCache(cfg *Config) *LRUCache {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &LRUCache{
		shards: make([]*shard, cfg.ShardCount),
		config: cfg,
		stats: &Stats{
			MaxSize:       cfg.MaxSize,
			MemoryLimitMB: cfg.MemoryLimitMB,
			CreatedAt:     time.Now().Format(time.RFC3339),
		},
		stopCh: make(chan struct{}),
	}

	for i := 0; i < cfg.ShardCount; i++ {
		c.shards[i] = newShard(cfg)
	}

	return c
}

func (c *LRUCache) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(c.config.ShardCount)]
}

// Get looks up key. Returns nil, false if absent or expired.
func (c *LRUCache) Get(key string) (interface{}, bool) {
	start := time.Now()
	defer func() {
		atomic.AddInt64(&c.globalStats.gets, 1)
		if c.config.EnableMetrics {
			c.updateAvgGetTime(time.Since(start))
		}
	}()

	value, exists := c.getShard(key).get(key)
	if !exists {
		atomic.AddInt64(&c.globalStats.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.globalStats.hits, 1)
	return value, true
}

// Set stores key with ttl, evicting entries from each shard's
// least-recently-used end (see EvictLRU) if the cache has grown past
// MaxSize.
func (c *LRUCache) Set(key string, value interface{}, ttl time.Duration) {
	start := time.Now()
	defer func() {
		atomic.AddInt64(&c.globalStats.sets, 1)
		if c.config.EnableMetrics {
			c.updateAvgSetTime(time.Since(start))
		}
	}()

	c.getShard(key).add(key, value, ttl)

	for int64(c.Size()) > c.config.MaxSize {
		if c.EvictLRU(c.config.EvictionBatch) == 0 {
			break
		}
	}
}

// Delete removes key, reporting whether it was present.
func (c *LRUCache) Delete(key string) bool {
	defer atomic.AddInt64(&c.globalStats.deletes, 1)
	return c.getShard(key).remove(key)
}

// Clear empties every shard and resets counters.
func (c *LRUCache) Clear() {
	for _, s := range c.shards {
		s.mutex.Lock()
		s.items = make(map[string]*node)
		s.lruList = newLRUList()
		s.mutex.Unlock()
	}

	atomic.StoreInt64(&c.globalStats.hits, 0)
	atomic.StoreInt64(&c.globalStats.misses, 0)
	atomic.StoreInt64(&c.globalStats.sets, 0)
	atomic.StoreInt64(&c.globalStats.gets, 0)
	atomic.StoreInt64(&c.globalStats.deletes, 0)
	atomic.StoreInt64(&c.globalStats.evictions, 0)
	atomic.StoreInt64(&c.globalStats.expirations, 0)
}

// Exists reports whether key is present and unexpired.
func (c *LRUCache) Exists(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Size returns the total number of cached entries across all shards.
func (c *LRUCache) Size() int {
	total := 0
	for _, s := range c.shards {
		total += s.len()
	}
	return total
}

// Stats returns a snapshot of the cache's counters.
func (c *LRUCache) Stats() *Stats {
	stats := &Stats{
		TotalItems:    int64(c.Size()),
		TotalSize:     c.MemoryUsage(),
		MaxSize:       c.stats.MaxSize,
		MemoryLimitMB: c.stats.MemoryLimitMB,
		Hits:          atomic.LoadInt64(&c.globalStats.hits),
		Misses:        atomic.LoadInt64(&c.globalStats.misses),
		Sets:          atomic.LoadInt64(&c.globalStats.sets),
		Gets:          atomic.LoadInt64(&c.globalStats.gets),
		Deletes:       atomic.LoadInt64(&c.globalStats.deletes),
		Evictions:     atomic.LoadInt64(&c.globalStats.evictions),
		Expirations:   atomic.LoadInt64(&c.globalStats.expirations),
		CreatedAt:     c.stats.CreatedAt,
		LastCleanup:   c.stats.LastCleanup,
		AvgGetTime:    c.stats.AvgGetTime,
		AvgSetTime:    c.stats.AvgSetTime,
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// MemoryUsage returns the estimated number of bytes held by the cache.
func (c *LRUCache) MemoryUsage() int64 {
	var total int64
	for _, s := range c.shards {
		s.mutex.RLock()
		for _, n := range s.items {
			total += n.Item.Size
		}
		s.mutex.RUnlock()
	}
	return total
}

// EvictLRU evicts up to count entries, spread evenly across shards.
func (c *LRUCache) EvictLRU(count int) int {
	evicted := 0

	perShard := count / len(c.shards)
	if perShard == 0 {
		perShard = 1
	}

	for _, s := range c.shards {
		s.mutex.Lock()
		for i := 0; i < perShard && s.lruList.Size() > 0 && evicted < count; i++ {
			if n := s.lruList.removeTail(); n != nil {
				delete(s.items, n.Key)
				evicted++
				atomic.AddInt64(&c.globalStats.evictions, 1)
			}
		}
		s.mutex.Unlock()
	}

	return evicted
}

// EvictExpired sweeps every shard for expired entries.
func (c *LRUCache) EvictExpired() int {
	expired := 0
	now := time.Now()

	for _, s := range c.shards {
		s.mutex.Lock()

		var expiredKeys []string
		for key, n := range s.items {
			if n.Item.IsExpired() {
				expiredKeys = append(expiredKeys, key)
			}
		}
		for _, key := range expiredKeys {
			if n, ok := s.items[key]; ok {
				delete(s.items, key)
				s.lruList.removeNode(n)
				expired++
				atomic.AddInt64(&c.globalStats.expirations, 1)
			}
		}

		s.mutex.Unlock()
	}

	c.stats.LastCleanup = now
	return expired
}

// Start launches the background cleanup worker. Safe to call once.
func (c *LRUCache) Start() error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return fmt.Errorf("cache already running")
	}
	c.wg.Add(1)
	go c.cleanupWorker()
	return nil
}

// Stop halts the cleanup worker and waits for it to exit.
func (c *LRUCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return fmt.Errorf("cache not running")
	}
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

// IsRunning reports whether the cleanup worker is active.
func (c *LRUCache) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

func (c *LRUCache) updateAvgGetTime(d time.Duration) {
	if c.stats.AvgGetTime == 0 {
		c.stats.AvgGetTime = d
	} else {
		c.stats.AvgGetTime = (c.stats.AvgGetTime + d) / 2
	}
}

func (c *LRUCache) updateAvgSetTime(d time.Duration) {
	if c.stats.AvgSetTime == 0 {
		c.stats.AvgSetTime = d
	} else {
		c.stats.AvgSetTime = (c.stats.AvgSetTime + d) / 2
	}
}

func (c *LRUCache) cleanupWorker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.EvictExpired()
			c.checkMemoryPressure()
		case <-c.stopCh:
			return
		}
	}
}

// checkMemoryPressure evicts 20% of entries once estimated usage
// crosses 80% of the configured memory limit.
func (c *LRUCache) checkMemoryPressure() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usageMB := c.MemoryUsage() / (1024 * 1024)
	if usageMB > c.config.MemoryLimitMB*8/10 {
		if evictCount := c.Size() / 5; evictCount > 0 {
			c.EvictLRU(evictCount)
		}
	}
}
