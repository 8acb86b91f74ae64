// Package ratelimit provides the admission gate shared by every outbound
// broker call. The broker enforces two independent ceilings (requests per
// second and requests per minute), so a single token bucket is not enough:
// a call must find capacity in both windows before it may proceed.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is one fixed quota window. Counters reset wholesale when the
// window duration has fully elapsed since the window opened, matching the
// broker's own accounting; a burst straddling a window edge can briefly
// exceed the quota measured over an arbitrary rolling interval.
type window struct {
	quota    int
	duration time.Duration
	count    int
	openedAt time.Time
}

func (w *window) refresh(now time.Time) {
	if now.Sub(w.openedAt) >= w.duration {
		w.count = 0
		w.openedAt = now
	}
}

// resetsAt reports when the window next frees capacity.
func (w *window) resetsAt() time.Time {
	return w.openedAt.Add(w.duration)
}

// Limiter is a dual-window blocking rate limiter. Acquire never rejects a
// caller; it only delays until both the per-second and per-minute windows
// have available capacity.
type Limiter struct {
	mu        sync.Mutex
	perSecond window
	perMinute window
	nowFn     func() time.Time
}

// NewLimiter creates a limiter with the given per-second and per-minute
// quotas. Quotas must be positive.
func NewLimiter(perSecond, perMinute int) *Limiter {
	now := time.Now()
	return &Limiter{
		perSecond: window{quota: perSecond, duration: time.Second, openedAt: now},
		perMinute: window{quota: perMinute, duration: time.Minute, openedAt: now},
		nowFn:     time.Now,
	}
}

// Acquire blocks until one unit of capacity is available in both windows,
// then consumes it atomically from each. Returns early only if ctx is
// cancelled. Concurrent callers are served as capacity frees; no caller
// waits longer than one full minute window per attempt.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.nowFn()
		l.perSecond.refresh(now)
		l.perMinute.refresh(now)

		if l.perSecond.count < l.perSecond.quota && l.perMinute.count < l.perMinute.quota {
			l.perSecond.count++
			l.perMinute.count++
			l.mu.Unlock()
			return nil
		}

		// Wait until the earliest exhausted window rolls over.
		var wakeAt time.Time
		if l.perSecond.count >= l.perSecond.quota {
			wakeAt = l.perSecond.resetsAt()
		}
		if l.perMinute.count >= l.perMinute.quota {
			if wakeAt.IsZero() || l.perMinute.resetsAt().Before(wakeAt) {
				wakeAt = l.perMinute.resetsAt()
			}
		}
		l.mu.Unlock()

		wait := wakeAt.Sub(now)
		if wait <= 0 {
			continue
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
