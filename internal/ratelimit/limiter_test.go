package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock is a manually-advanced clock for window tests.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, time.December, 20, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTryAdmit_WithinWindow(t *testing.T) {
	clock := newStepClock()
	l := New(Limit{MaxCalls: 3, Window: time.Minute}, nil, WithClock(clock.Now))

	assert.True(t, l.TryAdmit("x"))
	assert.True(t, l.TryAdmit("x"))
	assert.True(t, l.TryAdmit("x"))
	assert.False(t, l.TryAdmit("x"), "fourth call in the window must be refused")
}

func TestTryAdmit_WindowSlides(t *testing.T) {
	clock := newStepClock()
	l := New(Limit{MaxCalls: 2, Window: time.Minute}, nil, WithClock(clock.Now))

	require.True(t, l.TryAdmit("x"))
	clock.Advance(30 * time.Second)
	require.True(t, l.TryAdmit("x"))
	require.False(t, l.TryAdmit("x"))

	// 31 seconds later the first call has aged out; one slot frees.
	clock.Advance(31 * time.Second)
	assert.True(t, l.TryAdmit("x"))
	assert.False(t, l.TryAdmit("x"))
}

func TestTryAdmit_KeysAreIndependent(t *testing.T) {
	clock := newStepClock()
	l := New(Limit{MaxCalls: 1, Window: time.Minute}, nil, WithClock(clock.Now))

	assert.True(t, l.TryAdmit("crunchyroll"))
	assert.False(t, l.TryAdmit("crunchyroll"))
	assert.True(t, l.TryAdmit("netflix"), "a full window on one key must not throttle another")
}

func TestTryAdmit_PerKeyOverride(t *testing.T) {
	clock := newStepClock()
	l := New(
		Limit{MaxCalls: 1, Window: time.Minute},
		map[string]Limit{"bulk": {MaxCalls: 3, Window: time.Minute}},
		WithClock(clock.Now),
	)

	assert.True(t, l.TryAdmit("bulk"))
	assert.True(t, l.TryAdmit("bulk"))
	assert.True(t, l.TryAdmit("bulk"))
	assert.False(t, l.TryAdmit("bulk"))

	assert.True(t, l.TryAdmit("other"))
	assert.False(t, l.TryAdmit("other"))
}

func TestTryAdmit_UnlimitedFallback(t *testing.T) {
	l := New(Limit{}, nil)
	for i := 0; i < 100; i++ {
		require.True(t, l.TryAdmit("anything"))
	}
}

func TestAdmit_BlocksUntilSlotFrees(t *testing.T) {
	l := New(Limit{MaxCalls: 1, Window: 50 * time.Millisecond}, nil)

	require.NoError(t, l.Admit(context.Background(), "x"))

	start := time.Now()
	require.NoError(t, l.Admit(context.Background(), "x"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond,
		"second admission must suspend until the window slides")
}

func TestAdmit_ContextCancellation(t *testing.T) {
	l := New(Limit{MaxCalls: 1, Window: time.Hour}, nil)
	require.NoError(t, l.Admit(context.Background(), "x"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Admit(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.InFlight("x"), "cancelled admission must not consume a slot")
}

func TestAdmit_ConcurrentCallersSameKey(t *testing.T) {
	l := New(Limit{MaxCalls: 5, Window: 20 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Admit(ctx, "shared")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}
