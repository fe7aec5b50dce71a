package security

import (
	"sync"
	"time"
)

// RateLimiter is a per-key sliding-window counter (§4.2): each key keeps
// an ordered list of call timestamps; Allow drops entries older than the
// window, rejects once the number of entries left in the window reaches
// the per-window maximum, otherwise records now and accepts.
type RateLimiter struct {
	mu         sync.Mutex
	windowMs   int64
	maxPerWin  int
	timestamps map[string][]int64
}

// NewRateLimiter constructs a RateLimiter with the given window (in
// milliseconds) and max calls per window.
func NewRateLimiter(windowMs int64, maxPerWindow int) *RateLimiter {
	return &RateLimiter{
		windowMs:   windowMs,
		maxPerWin:  maxPerWindow,
		timestamps: make(map[string][]int64),
	}
}

// Allow drops timestamps for key older than the window, rejects if the
// number of timestamps left is already at or above the max, else records
// now and accepts.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UnixMilli()
	kept := r.pruneLocked(key, now)
	if len(kept) >= r.maxPerWin {
		r.timestamps[key] = kept
		return false
	}
	r.timestamps[key] = append(kept, now)
	return true
}

// Remaining returns max - count for key, never negative.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.pruneLocked(key, time.Now().UnixMilli())
	r.timestamps[key] = kept
	remaining := r.maxPerWin - len(kept)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Cleanup drops keys with no timestamps remaining in the window.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UnixMilli()
	for key := range r.timestamps {
		kept := r.pruneLocked(key, now)
		if len(kept) == 0 {
			delete(r.timestamps, key)
		} else {
			r.timestamps[key] = kept
		}
	}
}

func (r *RateLimiter) pruneLocked(key string, now int64) []int64 {
	existing := r.timestamps[key]
	threshold := now - r.windowMs
	kept := existing[:0:0]
	for _, ts := range existing {
		if ts > threshold {
			kept = append(kept, ts)
		}
	}
	return kept
}
