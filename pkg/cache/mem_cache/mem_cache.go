package mem_cache

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pmkol/rdapx/pkg/cache"
	"github.com/pmkol/rdapx/pkg/concurrent_lru"
	"github.com/pmkol/rdapx/pkg/utils"
)

const (
	defaultSize = 1000
	defaultTTL  = time.Hour
)

var _ cache.Cache[int] = (*MemCache[int])(nil)

type Opts struct {
	// Size is the maximum number of entries. Default is 1000.
	Size int

	// Shards must be a power of 2. Default is 1, which gives strict LRU
	// order over the whole cache. More shards reduce lock contention but
	// track recency per shard.
	Shards int

	// DefaultTTL is used by Set when ttl <= 0. Default is 1h.
	DefaultTTL time.Duration

	// CleanerInterval enables a background goroutine that removes expired
	// entries. Zero disables it; expired entries are still never returned.
	CleanerInterval time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

func (o *Opts) init() {
	utils.SetDefaultNum(&o.Size, defaultSize)
	utils.SetDefaultNum(&o.Shards, 1)
	utils.SetDefaultNum(&o.DefaultTTL, defaultTTL)
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

type MemCache[V any] struct {
	opts Opts

	closed           uint32
	closeCleanerChan chan struct{}
	lru              *concurrent_lru.ShardedLRU[*elem[V]]
}

type elem[V any] struct {
	v          V
	insertedAt time.Time
	expiresAt  time.Time
}

func NewMemCache[V any](opts Opts) *MemCache[V] {
	opts.init()
	sizePerShard := opts.Size / opts.Shards
	if sizePerShard < 1 {
		sizePerShard = 1
	}
	c := &MemCache[V]{
		opts:             opts,
		closeCleanerChan: make(chan struct{}),
		lru:              concurrent_lru.NewShardedLRU[*elem[V]](opts.Shards, sizePerShard, nil),
	}

	if opts.CleanerInterval > 0 {
		go c.startCleaner(opts.CleanerInterval)
	}
	return c
}

func (c *MemCache[V]) isClosed() bool {
	return atomic.LoadUint32(&c.closed) != 0
}

func (c *MemCache[V]) Close() error {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		close(c.closeCleanerChan)
	}
	return nil
}

func (c *MemCache[V]) Get(key string) (v V, ok bool) {
	if c.isClosed() {
		return
	}
	e, found := c.lru.Get(key)
	if !found || c.opts.Clock.Now().After(e.expiresAt) {
		return
	}
	return e.v, true
}

func (c *MemCache[V]) Set(key string, v V, ttl time.Duration) {
	if c.isClosed() {
		return
	}
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	now := c.opts.Clock.Now()
	c.lru.Add(key, &elem[V]{
		v:          v,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	})
}

func (c *MemCache[V]) Has(key string) bool {
	e, found := c.lru.Peek(key)
	return found && !c.opts.Clock.Now().After(e.expiresAt)
}

func (c *MemCache[V]) Delete(key string) {
	c.lru.Del(key)
}

func (c *MemCache[V]) Clear() {
	c.lru.Purge()
}

// Len includes expired entries that were not cleaned yet.
func (c *MemCache[V]) Len() int {
	return c.lru.Len()
}

// RemoveExpired removes all expired entries and returns how many were
// removed.
func (c *MemCache[V]) RemoveExpired() int {
	now := c.opts.Clock.Now()
	return c.lru.Clean(func(_ string, e *elem[V]) bool {
		return now.After(e.expiresAt)
	})
}

func (c *MemCache[V]) startCleaner(interval time.Duration) {
	ticker := c.opts.Clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCleanerChan:
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}
