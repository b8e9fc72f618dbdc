package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx ends
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// SlidingWindow implements a sliding window rate limiter
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewSlidingWindow creates a new sliding window rate limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
		now:         time.Now,
	}
}

// Allow checks if a request can proceed
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.cleanOldRequests(now)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// Wait blocks until a request is allowed
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for !sw.Allow() {
		delay := sw.RetryAfter()
		if delay <= 0 {
			delay = 100 * time.Millisecond
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return nil
}

// RetryAfter reports how long until the oldest request leaves the window
func (sw *SlidingWindow) RetryAfter() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.requests) < sw.maxRequests || len(sw.requests) == 0 {
		return 0
	}
	return sw.windowSize - sw.now().Sub(sw.requests[0])
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.requests = sw.requests[:0]
}

// idle reports whether no request is left inside the window
func (sw *SlidingWindow) idle() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cleanOldRequests(sw.now())
	return len(sw.requests) == 0
}

// cleanOldRequests removes requests outside the sliding window
func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)

	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}

	if i > 0 {
		copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:len(sw.requests)-i]
	}
}

// Keyed keeps one SlidingWindow per key, such as a client IP
type Keyed struct {
	maxRequests int
	windowSize  time.Duration
	now         func() time.Time

	mu      sync.Mutex
	windows map[string]*SlidingWindow
}

// NewKeyed creates a per-key sliding window limiter
func NewKeyed(maxRequests int, windowSize time.Duration) *Keyed {
	return &Keyed{
		maxRequests: maxRequests,
		windowSize:  windowSize,
		now:         time.Now,
		windows:     make(map[string]*SlidingWindow),
	}
}

// SetClock replaces the time source of k and of windows created afterwards
func (k *Keyed) SetClock(now func() time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.now = now
}

// Allow checks if key may make another request. The second value is how long
// the caller should wait before retrying when the request is denied.
func (k *Keyed) Allow(key string) (bool, time.Duration) {
	w := k.window(key)
	if w.Allow() {
		return true, 0
	}
	return false, w.RetryAfter()
}

func (k *Keyed) window(key string) *SlidingWindow {
	k.mu.Lock()
	defer k.mu.Unlock()

	w, ok := k.windows[key]
	if !ok {
		w = NewSlidingWindow(k.maxRequests, k.windowSize)
		w.now = k.now
		k.windows[key] = w
	}
	return w
}

// Prune drops windows with no requests left and returns how many were removed
func (k *Keyed) Prune() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for key, w := range k.windows {
		if w.idle() {
			delete(k.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}
