package security

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	rl := NewRateLimiter(int64(3600000), 20)
	for i := 0; i < 20; i++ {
		if !rl.Allow("sender") {
			t.Fatalf("expected call %d to be allowed", i)
		}
	}
	if rl.Allow("sender") {
		t.Fatalf("expected 21st call within window to be rejected")
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	rl := NewRateLimiter(int64(3600000), 1)
	if !rl.Allow("a") {
		t.Fatalf("expected first key to be allowed")
	}
	if !rl.Allow("b") {
		t.Fatalf("expected distinct key to be allowed independently")
	}
	if rl.Allow("a") {
		t.Fatalf("expected second call on same key to be rejected")
	}
}

func TestRateLimiterRemaining(t *testing.T) {
	rl := NewRateLimiter(int64(3600000), 5)
	rl.Allow("k")
	rl.Allow("k")
	if got := rl.Remaining("k"); got != 3 {
		t.Fatalf("expected remaining 3, got %d", got)
	}
}

func TestRateLimiterCleanupDropsEmptyKeys(t *testing.T) {
	rl := NewRateLimiter(int64(1), 5)
	rl.Allow("k")
	time.Sleep(5 * time.Millisecond)
	rl.Cleanup()
	if _, ok := rl.timestamps["k"]; ok {
		t.Fatalf("expected key with no timestamps left in the window to be dropped")
	}
}
