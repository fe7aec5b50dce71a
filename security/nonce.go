// Package security implements the process-wide NonceCache and RateLimiter
// (§4.1, §4.2) shared by the invitation/announcement surfaces.
package security

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultNonceCacheCapacity is the default capacity cap N from §4.1.
const DefaultNonceCacheCapacity = 1000

// NonceCache is a sliding-window set of seen nonces with TTL eviction and
// a capacity cap; on overflow the oldest-by-timestamp entries are evicted
// first.
type NonceCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type nonceEntry struct {
	nonce string
	seen  time.Time
}

// NewNonceCache constructs a NonceCache with the given capacity cap. A
// non-positive capacity falls back to DefaultNonceCacheCapacity.
func NewNonceCache(capacity int) *NonceCache {
	if capacity <= 0 {
		capacity = DefaultNonceCacheCapacity
	}
	return &NonceCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// CheckAndRemember returns true iff nonce was not present; it inserts it
// either way the nonce is usable going forward.
func (c *NonceCache) CheckAndRemember(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkAndRememberLocked(nonce, time.Now())
}

func (c *NonceCache) checkAndRememberLocked(nonce string, now time.Time) bool {
	key := canonicalizeNonce(nonce)
	if key == "" {
		return false
	}
	if _, exists := c.entries[key]; exists {
		return false
	}
	elem := c.order.PushFront(&nonceEntry{nonce: key, seen: now})
	c.entries[key] = elem
	c.enforceCapacityLocked()
	return true
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Fresh  bool
	Reason string
}

// Validate rejects an empty nonce; otherwise it evicts every entry older
// than ttl and then applies CheckAndRemember (§4.1).
func (c *NonceCache) Validate(nonce string, ttl time.Duration) ValidationResult {
	if strings.TrimSpace(nonce) == "" {
		return ValidationResult{Fresh: false, Reason: "empty nonce"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.evictOlderThanLocked(now, ttl)
	if c.checkAndRememberLocked(nonce, now) {
		return ValidationResult{Fresh: true}
	}
	return ValidationResult{Fresh: false, Reason: "Nonce replay detected"}
}

func (c *NonceCache) evictOlderThanLocked(now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	threshold := now.Add(-ttl)
	for elem := c.order.Back(); elem != nil; {
		entry := elem.Value.(*nonceEntry)
		if entry.seen.After(threshold) {
			break
		}
		prev := elem.Prev()
		c.order.Remove(elem)
		delete(c.entries, entry.nonce)
		elem = prev
	}
}

func (c *NonceCache) enforceCapacityLocked() {
	for len(c.entries) > c.capacity {
		elem := c.order.Back()
		if elem == nil {
			return
		}
		entry := elem.Value.(*nonceEntry)
		c.order.Remove(elem)
		delete(c.entries, entry.nonce)
	}
}

// Size reports the number of nonces currently tracked.
func (c *NonceCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// canonicalizeNonce normalizes a nonce string (NFKC, case-folded, "0x"
// trimmed) so equivalent hex representations of the same 128-bit value
// collide in the cache.
func canonicalizeNonce(nonce string) string {
	trimmed := strings.TrimSpace(norm.NFKC.String(nonce))
	if trimmed == "" {
		return ""
	}
	lowered := strings.ToLower(trimmed)
	lowered = strings.TrimPrefix(lowered, "0x")
	return lowered
}
