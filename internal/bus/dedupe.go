package bus

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupeCache remembers keys for a TTL window. Devices tend to repeat
// identical status reports; the monitor uses it to print each distinct
// report once per window.
//
// When full, the least recently seen key is evicted.
type DedupeCache struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewDedupeCache creates a cache. maxSize <= 0 means unbounded.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if maxSize < 0 {
		maxSize = 0
	}
	return &DedupeCache{seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// IsDuplicate returns true if key was already seen within the TTL window.
// If not a duplicate, records the key for future checks.
func (d *DedupeCache) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen.Get(key); ok {
		return true
	}
	d.seen.Add(key, struct{}{})
	return false
}

// Len is the number of keys currently held.
func (d *DedupeCache) Len() int {
	return d.seen.Len()
}
