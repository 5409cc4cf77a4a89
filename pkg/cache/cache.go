// Package cache defines the key/value store shared by the response cache
// and the bootstrap table cache.
package cache

import (
	"io"
	"time"
)

// Cache is a TTL + LRU store. Implementations are safe for concurrent use.
// Backend failures are never returned: a failing Get is a miss and a failing
// Set is dropped.
type Cache[V any] interface {
	// Get returns the value of key. It is a miss if key is absent or
	// expired. A hit marks key as recently used.
	Get(key string) (v V, ok bool)

	// Set inserts or replaces key. A ttl <= 0 uses the cache default.
	Set(key string, v V, ttl time.Duration)

	Delete(key string)
	Clear()

	// Has is Get without touching recency.
	Has(key string) bool
	Len() int

	io.Closer
}

// Codec converts values for byte oriented backends.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(b []byte) (V, error)
}
