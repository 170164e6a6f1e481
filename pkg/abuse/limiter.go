// Package abuse tracks failed public-share password attempts per
// (client IP, share token) and throttles guessing with a windowed attempt
// cap plus exponential backoff.
package abuse

import (
	"fmt"
	"sync"
	"time"
)

const (
	// windowDuration is the sliding window for the attempt cap.
	windowDuration = 60 * time.Second
	// maxAttemptsPerWindow caps password attempts inside one window.
	maxAttemptsPerWindow = 10
	// backoffThreshold is the failure count from which blocks apply.
	backoffThreshold = 3
	// maxBackoff caps the exponential block duration.
	maxBackoff = 300 * time.Second
)

// Result reports whether an attempt may proceed and, when not, how long
// the caller must wait.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string
}

type entry struct {
	windowStart  time.Time
	windowCount  int
	failures     int
	blockedUntil time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.windowStart) > windowDuration && !now.Before(e.blockedUntil)
}

// Limiter is the in-process attempt tracker. Entries are pruned lazily on
// access once both the block and the window have elapsed.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func key(ip, token string) string {
	return ip + "|" + token
}

// Check decides whether a password attempt from ip against token may
// proceed. It counts the attempt against the window when allowed.
func (l *Limiter) Check(ip, token string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	k := key(ip, token)
	e := l.entries[k]
	if e == nil {
		e = &entry{windowStart: now}
		l.entries[k] = e
	}

	if e.failures >= backoffThreshold && now.Before(e.blockedUntil) {
		retry := e.blockedUntil.Sub(now)
		return Result{
			Allowed:    false,
			RetryAfter: retry,
			Reason:     fmt.Sprintf("too many failed password attempts, retry in %ds", ceilSeconds(retry)),
		}
	}

	if now.Sub(e.windowStart) > windowDuration {
		e.windowStart = now
		e.windowCount = 0
	}
	if e.windowCount >= maxAttemptsPerWindow {
		return Result{
			Allowed:    false,
			RetryAfter: windowDuration,
			Reason:     "too many password attempts, retry in 60s",
		}
	}
	e.windowCount++
	return Result{Allowed: true}
}

// RecordFailure registers a failed password verification: the failure
// count grows and the block extends to now + min(300, 2^failures) seconds.
func (l *Limiter) RecordFailure(ip, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key(ip, token)
	e := l.entries[k]
	if e == nil {
		e = &entry{windowStart: now}
		l.entries[k] = e
	}

	e.failures++
	// Clamp the exponent before shifting; 2^9s already exceeds maxBackoff
	// and an unclamped shift overflows into a negative duration.
	shift := uint(e.failures)
	if shift > 9 {
		shift = 9
	}
	backoff := time.Duration(1<<shift) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	e.blockedUntil = now.Add(backoff)
}

// RecordSuccess clears both counters for the key.
func (l *Limiter) RecordSuccess(ip, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key(ip, token))
}

// pruneLocked drops entries whose block and window have both elapsed.
func (l *Limiter) pruneLocked(now time.Time) {
	for k, e := range l.entries {
		if e.expired(now) {
			delete(l.entries, k)
		}
	}
}

func ceilSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
