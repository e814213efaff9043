package dispatch

import (
	"context"
	"sync"
	"time"
)

// rateLimiter spaces dispatches evenly so at most `perSecond` jobs leave
// the queue in any one second window. It is the dispatcher's only piece
// of cross-worker shared state besides the in-flight counter.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newRateLimiter(perSecond int) *rateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &rateLimiter{interval: time.Second / time.Duration(perSecond)}
}

// Wait blocks until the caller may dispatch, or until ctx is done.
func (l *rateLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	if l.next.Before(now) {
		l.next = now
	}
	wait := l.next.Sub(now)
	l.next = l.next.Add(l.interval)
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
