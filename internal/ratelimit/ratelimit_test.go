package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the limiter through simulated time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := New()
	l.now = clock.Now
	return l, clock
}

func allow(t *testing.T, l *Limiter, rule, sender string, cooldown time.Duration, max int) bool {
	t.Helper()
	ok, err := l.Allow(context.Background(), rule, sender, cooldown, max)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	return ok
}

// TestCooldown covers the 30s cooldown scenario: first fire permitted,
// denied at +5s, permitted again at +31s.
func TestCooldown(t *testing.T) {
	l, clock := newTestLimiter()

	if !allow(t, l, "rule-test", "nodeA", 30*time.Second, 10) {
		t.Fatal("first fire should be permitted")
	}
	clock.Advance(5 * time.Second)
	if allow(t, l, "rule-test", "nodeA", 30*time.Second, 10) {
		t.Fatal("fire at +5s should be denied")
	}
	clock.Advance(26 * time.Second)
	if !allow(t, l, "rule-test", "nodeA", 30*time.Second, 10) {
		t.Fatal("fire at +31s should be permitted")
	}
}

// TestDenialIsIdempotent verifies a denial does not record anything: repeated
// checks inside the cooldown keep denying and do not push the window out.
func TestDenialIsIdempotent(t *testing.T) {
	l, clock := newTestLimiter()

	allow(t, l, "r", "a", time.Minute, 0)
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		if allow(t, l, "r", "a", time.Minute, 0) {
			t.Fatalf("check %d inside cooldown should deny", i)
		}
	}
	// 50s of denied checks must not have reset the clock: the original
	// fire was 50s ago, so 10 more seconds clears the cooldown.
	clock.Advance(10 * time.Second)
	if !allow(t, l, "r", "a", time.Minute, 0) {
		t.Fatal("cooldown should have elapsed exactly one minute after the fire")
	}
}

// TestRollingHourQuota verifies the sliding one-hour window.
func TestRollingHourQuota(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 3; i++ {
		if !allow(t, l, "r", "a", 0, 3) {
			t.Fatalf("fire %d should be permitted", i)
		}
		clock.Advance(10 * time.Minute)
	}
	// 30 minutes in, three fires recorded: quota exhausted.
	if allow(t, l, "r", "a", 0, 3) {
		t.Fatal("fourth fire inside the hour should be denied")
	}
	// 65 minutes after the first fire it has slid out of the window.
	clock.Advance(35 * time.Minute)
	if !allow(t, l, "r", "a", 0, 3) {
		t.Fatal("fire should be permitted once the oldest slides out")
	}
}

// TestUnlimitedDimensions treats zero cooldown / zero max as no limit.
func TestUnlimitedDimensions(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 100; i++ {
		if !allow(t, l, "r", "a", 0, 0) {
			t.Fatalf("unlimited rule denied on fire %d", i)
		}
	}
}

// TestKeysAreIndependent verifies entries are never shared across rules or
// senders.
func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	if !allow(t, l, "r1", "a", time.Minute, 0) {
		t.Fatal("r1/a should fire")
	}
	if !allow(t, l, "r2", "a", time.Minute, 0) {
		t.Fatal("r2/a must not be blocked by r1/a")
	}
	if !allow(t, l, "r1", "b", time.Minute, 0) {
		t.Fatal("r1/b must not be blocked by r1/a")
	}
	if allow(t, l, "r1", "a", time.Minute, 0) {
		t.Fatal("r1/a should still be cooling down")
	}
}

// TestConcurrentSameKey hammers one key with one remaining fire and checks
// exactly one goroutine wins.
func TestConcurrentSameKey(t *testing.T) {
	l, _ := newTestLimiter()

	const n = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(context.Background(), "r", "a", time.Hour, 1)
			if err != nil {
				t.Errorf("Allow: %v", err)
				return
			}
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 1 {
		t.Fatalf("expected exactly 1 permitted fire, got %d", allowed)
	}
}

// TestPrune drops aged entries but keeps active ones.
func TestPrune(t *testing.T) {
	l, clock := newTestLimiter()

	allow(t, l, "old", "a", 0, 5)
	clock.Advance(3 * time.Hour)
	allow(t, l, "fresh", "a", 0, 5)

	if removed := l.Prune(2 * time.Hour); removed != 1 {
		t.Fatalf("Prune removed %d entries, want 1", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d after prune, want 1", l.Len())
	}
}
