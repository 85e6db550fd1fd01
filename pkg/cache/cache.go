package cache

import (
	"sync"
	"time"
)

// Item represents a cached item with expiration
type Item struct {
	Value      interface{}
	Expiration int64
}

func (item Item) expiredAt(now int64) bool {
	return item.Expiration > 0 && now > item.Expiration
}

// Options configures a Cache
type Options struct {
	DefaultExpiration time.Duration
	CleanupInterval   time.Duration
	MaxItems          int
	// Now overrides the clock; tests use it to step past expirations
	Now func() time.Time
}

// Cache is a thread-safe in-memory cache with expiration
type Cache struct {
	items             map[string]Item
	mu                sync.RWMutex
	defaultExpiration time.Duration
	maxItems          int
	now               func() time.Time
	stop              chan struct{}
	stopOnce          sync.Once
}

// New creates a cache and starts its janitor when CleanupInterval > 0
func New(opts Options) *Cache {
	c := &Cache{
		items:             make(map[string]Item),
		defaultExpiration: opts.DefaultExpiration,
		maxItems:          opts.MaxItems,
		now:               opts.Now,
		stop:              make(chan struct{}),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.CleanupInterval > 0 {
		go c.janitor(opts.CleanupInterval)
	}
	return c
}

func (c *Cache) expiry(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return c.now().Add(d).UnixNano()
}

// Set adds an item with the default expiration
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithExpiration(key, value, c.defaultExpiration)
}

// SetWithExpiration adds an item with a specific expiration
func (c *Cache) SetWithExpiration(key string, value interface{}, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, d)
}

// SetIfAbsent stores value only when key is missing or expired and reports
// whether it did. The check and the write happen under one lock.
func (c *Cache) SetIfAbsent(key string, value interface{}, d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok && !item.expiredAt(c.now().UnixNano()) {
		return false
	}
	c.store(key, value, d)
	return true
}

func (c *Cache) store(key string, value interface{}, d time.Duration) {
	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}
	c.items[key] = Item{Value: value, Expiration: c.expiry(d)}
}

// Get retrieves an unexpired item
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || item.expiredAt(c.now().UnixNano()) {
		return nil, false
	}
	return item.Value, true
}

// Delete removes an item from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Count returns the number of items, expired ones included
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the janitor
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixNano()
	for k, v := range c.items {
		if v.expiredAt(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest drops the entry closest to expiry. Caller holds the lock.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest int64
	first := true
	for k, v := range c.items {
		if first || (v.Expiration != 0 && (oldest == 0 || v.Expiration < oldest)) {
			oldestKey, oldest, first = k, v.Expiration, false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
