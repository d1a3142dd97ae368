package service

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// RateLimiterConfig configures a sliding-window rate limiter.
type RateLimiterConfig struct {
	Capacity int           // Admissions allowed per window
	Window   time.Duration // Window length
}

// DefaultRateLimiterConfig returns 5 admissions per 60 seconds.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Capacity: 5,
		Window:   60 * time.Second,
	}
}

// window holds the admission timestamps of one key in ascending order.
type window struct {
	mu       sync.Mutex
	stamps   []time.Time
	lastUsed time.Time
	evicted  bool
}

// prune drops timestamps that have left the window.
func (w *window) prune(now time.Time, length time.Duration) {
	cutoff := now.Add(-length)
	i := sort.Search(len(w.stamps), func(i int) bool { return w.stamps[i].After(cutoff) })
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// live returns the timestamps still inside the window without modifying w.
func (w *window) live(now time.Time, length time.Duration) []time.Time {
	cutoff := now.Add(-length)
	i := sort.Search(len(w.stamps), func(i int) bool { return w.stamps[i].After(cutoff) })
	return w.stamps[i:]
}

// RateLimiter is a sliding-window admission controller keyed by caller
// identity. Each key has its own lock; the key map lock is only held for
// lookup, insertion and the periodic idle sweep.
type RateLimiter struct {
	cfg   RateLimiterConfig
	clock Clock

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// RateLimiterOption configures a rate limiter.
type RateLimiterOption func(*RateLimiter)

// WithClock sets the time source.
func WithClock(c Clock) RateLimiterOption {
	return func(r *RateLimiter) {
		r.clock = c
	}
}

// NewRateLimiter creates a sliding-window rate limiter.
func NewRateLimiter(cfg RateLimiterConfig, opts ...RateLimiterOption) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	r := &RateLimiter{
		cfg:     cfg,
		clock:   SystemClock{},
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastSweep = r.clock.Now()
	return r
}

// Config returns the limiter configuration.
func (r *RateLimiter) Config() RateLimiterConfig {
	return r.cfg
}

// acquire returns the locked window for key. The caller must unlock it.
func (r *RateLimiter) acquire(key string) (*window, time.Time) {
	for {
		r.mu.Lock()
		now := r.clock.Now()
		r.sweepLocked(now)
		w, ok := r.windows[key]
		if !ok {
			w = &window{}
			r.windows[key] = w
		}
		r.mu.Unlock()

		w.mu.Lock()
		if !w.evicted {
			return w, now
		}
		// Swept between lookup and lock; look it up again.
		w.mu.Unlock()
	}
}

// sweepLocked evicts windows idle for twice the window length with no live
// timestamps. It runs at most once per window. r.mu must be held.
func (r *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < r.cfg.Window {
		return
	}
	r.lastSweep = now
	idle := 2 * r.cfg.Window
	for key, w := range r.windows {
		w.mu.Lock()
		if now.Sub(w.lastUsed) >= idle && len(w.live(now, r.cfg.Window)) == 0 {
			w.evicted = true
			delete(r.windows, key)
		}
		w.mu.Unlock()
	}
}

// IsAllowed prunes expired timestamps for key and, when fewer than Capacity
// remain, records an admission and returns true. Check and record happen
// under the key's lock, so concurrent callers can never over-admit.
func (r *RateLimiter) IsAllowed(key string) bool {
	w, now := r.acquire(key)
	defer w.mu.Unlock()

	w.prune(now, r.cfg.Window)
	w.lastUsed = now
	if len(w.stamps) >= r.cfg.Capacity {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// RecordRequest appends the current time for key unconditionally. It is used
// when a request was admitted by some other mechanism but must still count
// against the window.
func (r *RateLimiter) RecordRequest(key string) {
	w, now := r.acquire(key)
	defer w.mu.Unlock()

	w.prune(now, r.cfg.Window)
	w.lastUsed = now
	w.stamps = append(w.stamps, now)
}

// GetRemaining returns how many admissions key has left in the current
// window. It never records.
func (r *RateLimiter) GetRemaining(key string) int {
	w, ok := r.lookup(key)
	if !ok {
		return r.cfg.Capacity
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	remaining := r.cfg.Capacity - len(w.live(r.clock.Now(), r.cfg.Window))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetResetTimeSeconds returns the seconds until the oldest timestamp for key
// leaves the window, or 0 when the window is empty. It never records.
func (r *RateLimiter) GetResetTimeSeconds(key string) float64 {
	w, ok := r.lookup(key)
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := r.clock.Now()
	live := w.live(now, r.cfg.Window)
	if len(live) == 0 {
		return 0
	}
	return math.Max(0, live[0].Add(r.cfg.Window).Sub(now).Seconds())
}

// Wait blocks until key is admitted or ctx is done. Admission is recorded.
func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	start := r.clock.Now()
	waited := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		w, now := r.acquire(key)
		w.prune(now, r.cfg.Window)
		w.lastUsed = now
		if len(w.stamps) < r.cfg.Capacity {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			if waited {
				rateLimitWaitSeconds.WithLabelValues(key).Observe(now.Sub(start).Seconds())
			}
			return nil
		}
		// The slot frees when the timestamp Capacity places from the end expires.
		delay := w.stamps[len(w.stamps)-r.cfg.Capacity].Add(r.cfg.Window).Sub(now)
		w.mu.Unlock()

		if !waited {
			rateLimitWaitsTotal.WithLabelValues(key).Inc()
			waited = true
		}
		if delay <= 0 {
			delay = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(delay):
		}
	}
}

func (r *RateLimiter) lookup(key string) (*window, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[key]
	return w, ok
}

// RateLimiterStatus is a point-in-time view of one key.
type RateLimiterStatus struct {
	Used         int     `json:"used"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// Status returns a snapshot of every tracked key.
func (r *RateLimiter) Status() map[string]RateLimiterStatus {
	r.mu.Lock()
	keys := make([]string, 0, len(r.windows))
	for k := range r.windows {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	out := make(map[string]RateLimiterStatus, len(keys))
	for _, k := range keys {
		remaining := r.GetRemaining(k)
		out[k] = RateLimiterStatus{
			Used:         r.cfg.Capacity - remaining,
			Remaining:    remaining,
			ResetSeconds: r.GetResetTimeSeconds(k),
		}
	}
	return out
}

// trackedKeys returns the number of windows held in memory.
func (r *RateLimiter) trackedKeys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}
