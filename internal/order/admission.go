package order

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter admits at most limit events within any rolling window. It
// keeps the timestamps of admissions still inside the window.
type WindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []time.Time
	now    func() time.Time
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &WindowLimiter{
		limit:  limit,
		window: window,
		events: make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// Wait blocks until an admission is available or ctx is done.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Allow admits an event now if the window has room.
func (l *WindowLimiter) Allow() bool {
	_, ok := l.reserve()
	return ok
}

func (l *WindowLimiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.window <= 0 {
		return 0, true
	}
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.events) && !l.events[i].After(cutoff) {
		i++
	}
	l.events = append(l.events[:0], l.events[i:]...)

	if len(l.events) < l.limit {
		l.events = append(l.events, now)
		return 0, true
	}
	wait := l.events[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}
