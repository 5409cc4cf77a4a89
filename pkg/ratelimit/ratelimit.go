// Package ratelimit is a sliding window log limiter. Check rejects
// immediately, it never waits for capacity.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pmkol/rdapx/pkg/rdaperr"
)

type Opts struct {
	MaxRequests int
	Window      time.Duration

	// CleanupInterval runs Cleanup in the background. Zero disables it, in
	// which case idle keys stay in memory until Cleanup is called.
	CleanupInterval time.Duration

	Clock clock.Clock
}

type Limiter struct {
	opts Opts

	mu      sync.Mutex
	windows map[string]*slidingWindow

	closeOnce sync.Once
	closed    chan struct{}
}

// slidingWindow holds the admitted timestamps of one key, oldest first.
type slidingWindow struct {
	timestamps []time.Time
}

func New(opts Opts) *Limiter {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	l := &Limiter{
		opts:    opts,
		windows: make(map[string]*slidingWindow),
		closed:  make(chan struct{}),
	}
	if opts.CleanupInterval > 0 {
		go l.cleaner(opts.CleanupInterval)
	}
	return l
}

// Check admits one request for key, or returns a *rdaperr.RateLimitError
// carrying the time until the oldest entry leaves the window.
func (l *Limiter) Check(key string) error {
	now := l.opts.Clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil {
		w = &slidingWindow{}
		l.windows[key] = w
	}
	w.prune(now, l.opts.Window)

	if len(w.timestamps) < l.opts.MaxRequests {
		w.timestamps = append(w.timestamps, now)
		return nil
	}

	var retryAfter time.Duration
	if len(w.timestamps) > 0 {
		retryAfter = w.timestamps[0].Add(l.opts.Window).Sub(now)
	}
	return &rdaperr.RateLimitError{
		Key:        key,
		Limit:      l.opts.MaxRequests,
		Window:     l.opts.Window,
		RetryAfter: retryAfter,
	}
}

// Count returns the number of requests of key inside the current window.
func (l *Limiter) Count(key string) int {
	now := l.opts.Clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.windows[key]
	if w == nil {
		return 0
	}
	w.prune(now, l.opts.Window)
	return len(w.timestamps)
}

func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// Cleanup drops keys without entries inside the window and returns how
// many keys are left.
func (l *Limiter) Cleanup() int {
	now := l.opts.Clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.windows {
		w.prune(now, l.opts.Window)
		if len(w.timestamps) == 0 {
			delete(l.windows, k)
		}
	}
	return len(l.windows)
}

// Keys returns the number of tracked keys.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *Limiter) cleaner(interval time.Duration) {
	ticker := l.opts.Clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// prune removes timestamps older than window.
func (w *slidingWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}
