package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// SimpleRateLimiter enforces a jittered gap between consecutive actions.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
	rand       *rand.Rand
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until the next action is allowed or ctx is done.
func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	elapsed := time.Since(r.lastAction)
	delay := r.calculateDelay()
	r.mu.Unlock()

	if elapsed < delay {
		timer := time.NewTimer(delay - elapsed)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.mu.Lock()
	r.lastAction = time.Now()
	r.mu.Unlock()
	return nil
}

// Pause always sleeps for a jittered delay, regardless of when the last
// action happened.
func (r *SimpleRateLimiter) Pause(ctx context.Context) error {
	r.mu.Lock()
	delay := r.calculateDelay()
	r.mu.Unlock()

	return Sleep(ctx, delay)
}

// Delays returns the current bounds.
func (r *SimpleRateLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.minDelay >= r.maxDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	jitter := time.Duration(r.rand.Int63n(int64(delta)))
	return r.minDelay + jitter
}

// AdaptiveRateLimiter stretches the scroll settle pause while a session
// makes no progress and relaxes it back to the base delay once new records
// show up again.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	baseMin       time.Duration
	baseMax       time.Duration
	ceiling       time.Duration
	stallCount    int
	maxStallCount int
	backoffFactor float64
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	simple := NewSimpleRateLimiter(minDelay, maxDelay)
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: simple,
		baseMin:           simple.minDelay,
		baseMax:           simple.maxDelay,
		ceiling:           4 * simple.maxDelay,
		maxStallCount:     1,
		backoffFactor:     1.5,
	}
}

// RecordProgress resets the delay to its base values.
func (a *AdaptiveRateLimiter) RecordProgress() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stallCount = 0
	a.minDelay = a.baseMin
	a.maxDelay = a.baseMax
}

// RecordStall backs off after maxStallCount consecutive rounds without new
// records, capped at four times the base maximum.
func (a *AdaptiveRateLimiter) RecordStall() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stallCount++
	if a.stallCount < a.maxStallCount {
		return
	}

	newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
	newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)
	if a.ceiling > 0 {
		newMin = min(newMin, a.ceiling)
		newMax = min(newMax, a.ceiling)
	}

	a.minDelay = newMin
	a.maxDelay = newMax
	a.stallCount = 0
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
