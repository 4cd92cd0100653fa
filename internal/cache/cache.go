// Package cache provides a small in-process cache used within a single
// graph-search invocation (§4.4): the MPFP hop loop caches batched
// neighbour fetches keyed by (edge_type, from_node) so repeated patterns
// sharing a frontier node don't re-fetch it. Grounded on
// suryanshp1-QuantumFlow's use of dgraph-io/ristretto for its in-memory
// hot-path cache layer.
package cache

import (
	"github.com/dgraph-io/ristretto/v2"
)

// Cache is a generic bounded cache. A fresh instance is created per
// engine invocation that needs one (graph.Search is the only user) — it is
// not a long-lived process-wide cache, since memory content is bank-scoped
// and short-lived relative to a single Recall call.
type Cache[K comparable, V any] struct {
	rc *ristretto.Cache[K, V]
}

// New creates a Cache sized for approximately maxItems entries.
func New[K comparable, V any](maxItems int64) (*Cache[K, V], error) {
	rc, err := ristretto.NewCache(&ristretto.Config[K, V]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{rc: rc}, nil
}

// Get returns the cached value for key, if present.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.rc.Get(key)
}

// Set stores value under key with cost 1.
func (c *Cache[K, V]) Set(key K, value V) {
	c.rc.Set(key, value, 1)
	c.rc.Wait()
}

// Close releases cache resources.
func (c *Cache[K, V]) Close() {
	c.rc.Close()
}
