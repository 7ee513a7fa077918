package openai

import (
	"context"
	"sync"
	"time"
)

// A simple rate limiter that uses the token bucket algorithm.
type rateLimiter struct {
	mu       sync.Mutex // protect access to lastTime and tokens
	lastTime time.Time
	tokens   float64

	window time.Duration
	rate   int
	now    func() time.Time
}

// newRateLimiter creates a new rate limiter for the given number of tokens
// over the provided time window. E.g. newRateLimiter(10, time.Minute) will
// allow 10 units of work to happen over a minute.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		window:   window,
		rate:     rate,
		lastTime: time.Now(),
		tokens:   float64(rate),
		now:      time.Now,
	}
}

// Acquire returns nil if work can proceed. If the provided context is Done
// Acquire will return context.Err(). If the bucket is empty, Acquire will sleep
// until at least one token is available.
func (rl *rateLimiter) Acquire(ctx context.Context) error {
	for {
		if ok := rl.tryAcquire(); ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.window / time.Duration(rl.rate)):
			// Tokens accrue evenly across the window, so one should be
			// available after 1/Nth of it.
		}
	}
}

func (rl *rateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.lastTime)
	rl.lastTime = now

	// Refill proportionally to elapsed time. Fractions are kept so frequent
	// callers still accumulate tokens.
	rl.tokens += float64(elapsed) * float64(rl.rate) / float64(rl.window)
	rl.tokens = min(rl.tokens, float64(rl.rate))
	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}
