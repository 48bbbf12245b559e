// Package ratelimit implements fixed-window admission control keyed by
// client address. A client may get up to 2*max requests across a window
// boundary; that approximation is accepted.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/logging"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is the whole number of seconds, rounded up, until the
	// window resets. Only meaningful when Allowed is false.
	RetryAfter int
}

type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	max        int
	window     time.Duration
	sweepEvery time.Duration
	now        func() time.Time
	logger     logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(max int, window, sweepEvery time.Duration, logger logging.Logger) *Limiter {
	return &Limiter{
		buckets:    make(map[string]*bucket),
		max:        max,
		window:     window,
		sweepEvery: sweepEvery,
		now:        time.Now,
		logger:     logger.With("module", "ratelimit"),
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow records one request from key and reports whether it is admitted.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(l.window)}
		l.buckets[key] = b
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max - 1, ResetAt: b.resetAt}
	}

	if b.count < l.max {
		b.count++
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max - b.count, ResetAt: b.resetAt}
	}

	wait := b.resetAt.Sub(now)
	return Decision{
		Allowed:    false,
		Limit:      l.max,
		Remaining:  0,
		ResetAt:    b.resetAt,
		RetryAfter: int(math.Ceil(wait.Seconds())),
	}
}

// Sweep drops buckets whose window has ended and returns how many were
// removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Start launches the periodic sweep. It runs until ctx is cancelled or Stop
// is called.
func (l *Limiter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(l.sweepEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					l.logger.Debug(ctx, "swept expired buckets", "removed", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep started by Start and waits for it to exit.
func (l *Limiter) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}
