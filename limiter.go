package main

import (
	"context"
	"sync"
	"time"
)

// rateLimiter enforces at most `limit` granted requests within any rolling
// window. It is the only state shared across classification workers; all
// access goes through the mutex. Workers block in Wait until capacity frees.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	grants []time.Time // grant times still inside the window, oldest first

	now func() time.Time // swapped out in tests
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		limit:  requestsPerMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

// reserve either records a grant at `now` or reports how long the caller
// must wait for the oldest in-window grant to expire.
func (l *rateLimiter) reserve(now time.Time) (ok bool, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := 0
	for cutoff < len(l.grants) && now.Sub(l.grants[cutoff]) >= l.window {
		cutoff++
	}
	if cutoff > 0 {
		l.grants = append(l.grants[:0], l.grants[cutoff:]...)
	}

	if len(l.grants) < l.limit {
		l.grants = append(l.grants, now)
		return true, 0
	}
	return false, l.window - now.Sub(l.grants[0])
}

// Wait blocks until the limiter grants a slot or the context is done.
func (l *rateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := l.reserve(l.now())
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
