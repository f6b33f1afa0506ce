package cache

import (
	"sync"
	"time"
)

// TTLCache is an in-memory cache whose entries expire after a fixed TTL.
// When capacity is positive the cache never holds more than capacity live entries;
// inserting into a full cache evicts the entry closest to expiry.
type TTLCache[K comparable, V any] struct {
	data     map[K]*entry[V]
	ttl      time.Duration
	capacity int
	now      func() time.Time
	mu       sync.Mutex

	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
}

type entry[V any] struct {
	value      V
	expiration time.Time
}

// Option configures a TTLCache
type Option func(*options)

type options struct {
	capacity int
	now      func() time.Time
}

// WithCapacity bounds the number of live entries
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a new TTL cache. Expired entries are dropped lazily; call
// StartJanitor to also sweep them on an interval.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *TTLCache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[K, V]{
		data:     make(map[K]*entry[V]),
		ttl:      ttl,
		capacity: o.capacity,
		now:      o.now,
		done:     make(chan struct{}),
	}
}

// StartJanitor starts a goroutine removing expired entries every interval.
// It stops when Close is called.
func (c *TTLCache[K, V]) StartJanitor(interval time.Duration) {
	c.mu.Lock()
	if c.cleanup != nil {
		c.mu.Unlock()
		return
	}
	c.cleanup = time.NewTicker(interval)
	ticker := c.cleanup
	c.mu.Unlock()

	go c.cleanupLoop(ticker)
}

// Get retrieves a live value from the cache
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok || !c.now().Before(e.expiration) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value in the cache
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(key, value)
}

// SetIfAbsent stores value only when key has no live entry. It reports whether the value was stored.
func (c *TTLCache[K, V]) SetIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.data[key]; ok && c.now().Before(e.expiration) {
		return false
	}
	c.setLocked(key, value)
	return true
}

// GetOrCreate returns the live value for key, creating it when missing.
// A hit extends the entry's expiration by a full TTL.
func (c *TTLCache[K, V]) GetOrCreate(key K, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.data[key]; ok && c.now().Before(e.expiration) {
		e.expiration = c.now().Add(c.ttl)
		return e.value
	}
	value := create()
	c.setLocked(key, value)
	return value
}

// Delete removes a value from the cache
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// Size returns the number of entries, including expired ones not yet swept
func (c *TTLCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.data)
}

// Close stops the janitor goroutine, if any
func (c *TTLCache[K, V]) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *TTLCache[K, V]) setLocked(key K, value V) {
	now := c.now()
	if _, exists := c.data[key]; !exists && c.capacity > 0 && len(c.data) >= c.capacity {
		c.removeExpiredLocked(now)
		if len(c.data) >= c.capacity {
			c.evictOldestLocked()
		}
	}
	c.data[key] = &entry[V]{
		value:      value,
		expiration: now.Add(c.ttl),
	}
}

func (c *TTLCache[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for key, e := range c.data {
		if !found || e.expiration.Before(oldest) {
			oldestKey, oldest, found = key, e.expiration, true
		}
	}
	if found {
		delete(c.data, oldestKey)
	}
}

func (c *TTLCache[K, V]) removeExpiredLocked(now time.Time) {
	for key, e := range c.data {
		if !now.Before(e.expiration) {
			delete(c.data, key)
		}
	}
}

func (c *TTLCache[K, V]) cleanupLoop(ticker *time.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.removeExpiredLocked(c.now())
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}
