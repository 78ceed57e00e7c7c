// Package ratelimit tracks per-(rule, sender) cooldown and rolling-hour
// quota state for the auto-response matcher.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is the span of the rolling fire-count quota.
const Window = time.Hour

// Store decides whether a candidate rule fire is permitted and, if so,
// atomically records it. A zero cooldown or zero maxPerHour disables that
// dimension of the limit. Two concurrent checks for the same key must never
// both pass when only one fire remains.
type Store interface {
	Allow(ctx context.Context, ruleID, senderID string, cooldown time.Duration, maxPerHour int) (bool, error)
}

type key struct {
	rule   string
	sender string
}

type entry struct {
	lastFire time.Time
	fires    []time.Time // fire instants inside the rolling window
}

// Limiter is the in-memory Store. Entries are created lazily on first check
// and pruned by age via Prune to bound memory on long-running gateways.
type Limiter struct {
	mu      sync.Mutex
	entries map[key]*entry
	now     func() time.Time
}

// New creates an empty in-memory limiter.
func New() *Limiter {
	return &Limiter{
		entries: make(map[key]*entry),
		now:     time.Now,
	}
}

// Allow implements Store. The check and the record are one critical section,
// so a second concurrent check for the same key observes the first fire.
func (l *Limiter) Allow(_ context.Context, ruleID, senderID string, cooldown time.Duration, maxPerHour int) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{rule: ruleID, sender: senderID}
	e := l.entries[k]
	if e == nil {
		e = &entry{}
		l.entries[k] = e
	}

	if cooldown > 0 && !e.lastFire.IsZero() && now.Sub(e.lastFire) < cooldown {
		return false, nil
	}

	// Slide the window before counting.
	cutoff := now.Add(-Window)
	kept := e.fires[:0]
	for _, t := range e.fires {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.fires = kept

	if maxPerHour > 0 && len(e.fires) >= maxPerHour {
		return false, nil
	}

	e.lastFire = now
	if maxPerHour > 0 {
		e.fires = append(e.fires, now)
	}
	return true, nil
}

// Prune drops entries whose last fire is older than maxAge and returns the
// number removed. Entries are never shared across rules, so dropping one can
// only re-open a limit that had already expired.
func (l *Limiter) Prune(maxAge time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, e := range l.entries {
		if e.lastFire.IsZero() || now.Sub(e.lastFire) > maxAge {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked (rule, sender) entries.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
