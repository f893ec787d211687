package limiter

import (
	"context"
	"sync"
	"time"
)

// DurationLimiter allows an operation to run at most limit times per duration.
// Windows are fixed: the budget refills all at once when the window ends.
type DurationLimiter struct {
	mu sync.Mutex

	limit    int32
	duration time.Duration

	resetsAt  time.Time
	available int32
}

// NewDurationLimiter creates a DurationLimiter allowing limit operations every duration.
func NewDurationLimiter(limit int32, duration time.Duration) *DurationLimiter {
	return &DurationLimiter{
		limit:    limit,
		duration: duration,
	}
}

// Wait blocks until a slot is available or ctx is done.
func (l *DurationLimiter) Wait(ctx context.Context) error {
	for {
		wait := l.reserve(time.Now())
		if wait <= 0 {
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

// Lock blocks until a slot is available.
func (l *DurationLimiter) Lock() {
	_ = l.Wait(context.Background())
}

// Available returns the number of slots left in the current window.
func (l *DurationLimiter) Available() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !time.Now().Before(l.resetsAt) {
		return l.limit
	}

	return l.available
}

// reserve takes a slot and returns zero, or returns how long until the window resets.
func (l *DurationLimiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.resetsAt) {
		l.resetsAt = now.Add(l.duration)
		l.available = l.limit
	}

	if l.available <= 0 {
		return l.resetsAt.Sub(now)
	}

	l.available--

	return 0
}
