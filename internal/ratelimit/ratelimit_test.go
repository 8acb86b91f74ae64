package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time manually instead of sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestLimiter(perSecond, perMinute int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC)}
	l := NewLimiter(perSecond, perMinute)
	l.nowFn = clock.Now
	l.perSecond.openedAt = clock.now
	l.perMinute.openedAt = clock.now
	return l, clock
}

func TestLimiter_AcquireWithinQuota(t *testing.T) {
	l, _ := newTestLimiter(7, 250)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	assert.Equal(t, 7, l.perSecond.count)
	assert.Equal(t, 7, l.perMinute.count)
}

func TestLimiter_SecondWindowRefreshes(t *testing.T) {
	l, clock := newTestLimiter(2, 250)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	clock.Advance(time.Second)
	require.NoError(t, l.Acquire(ctx))

	assert.Equal(t, 1, l.perSecond.count, "second window should have reset")
	assert.Equal(t, 3, l.perMinute.count, "minute window keeps accumulating")
}

func TestLimiter_BlocksUntilSecondWindowRollsOver(t *testing.T) {
	l, clock := newTestLimiter(1, 250)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))

	// Advance the clock once the blocked caller goes to sleep so the next
	// loop iteration finds fresh capacity.
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()

	// The goroutine computes its wait from the fake clock but sleeps on the
	// real one, so the second attempt observes the advanced clock.
	time.Sleep(50 * time.Millisecond)
	clock.Advance(time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Acquire did not return after window rolled over")
	}
}

func TestLimiter_MinuteQuotaExhausted(t *testing.T) {
	l, clock := newTestLimiter(10, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
		clock.Advance(time.Second)
	}

	// Minute quota is spent; a short context must expire while waiting.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(shortCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_MinuteWindowRefreshes(t *testing.T) {
	l, clock := newTestLimiter(10, 2)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	clock.Advance(time.Minute)
	require.NoError(t, l.Acquire(ctx))

	assert.Equal(t, 1, l.perMinute.count)
}

func TestLimiter_ContextCancelledWhileWaiting(t *testing.T) {
	l, _ := newTestLimiter(1, 250)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Acquire did not honor cancellation")
	}
}
