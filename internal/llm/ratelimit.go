package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a sliding-window requests-per-minute ceiling.
// Safe for concurrent use.
type RateLimiter struct {
	rpm    int
	window time.Duration

	mu         sync.Mutex
	timestamps []time.Time
}

// NewRateLimiter returns a limiter allowing rpm acquisitions per rolling
// 60-second window.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{rpm: rpm, window: time.Minute}
}

// Acquire blocks until the window admits one more request or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-r.window)
		kept := r.timestamps[:0]
		for _, ts := range r.timestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		r.timestamps = kept

		if len(r.timestamps) < r.rpm {
			r.timestamps = append(r.timestamps, now)
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest timestamp leaves the window, then recheck.
		wait := r.timestamps[0].Add(r.window).Sub(now)
		r.mu.Unlock()

		if wait <= 0 {
			continue
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
