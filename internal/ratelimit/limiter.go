// Package ratelimit implements the engine's pre-emptive per-source rate
// limiter: a sliding-window call counter keyed by source (platform or API
// account).
//
// Rate limiting here is a scheduling constraint, not an error. A caller
// over the window suspends until the oldest call ages out, instead of
// receiving a failure. The external service's own 429 handling lives in
// the retry layer; this limiter exists so we rarely get that far.
//
// State is in-memory only. After a restart the windows start empty, which
// under-counts — safe, because the external service enforces the hard
// limit regardless.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limit is a per-source window configuration: at most MaxCalls admissions
// per rolling Window.
type Limit struct {
	MaxCalls int
	Window   time.Duration
}

// unlimited reports whether this limit disables throttling.
func (l Limit) unlimited() bool {
	return l.MaxCalls <= 0 || l.Window <= 0
}

// Limiter tracks sliding windows per source key.
//
// Safe for concurrent callers sharing a key: admissions are serialized
// under one mutex, and waiting happens outside the lock so a suspended
// caller never blocks others.
type Limiter struct {
	mu       sync.Mutex
	fallback Limit
	limits   map[string]Limit
	calls    map[string][]time.Time // admission timestamps, oldest first

	now func() time.Time // injectable for tests
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock. Tests use this to step time without
// sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter with a fallback limit and optional per-source
// overrides. A zero fallback means sources without an override are
// unlimited.
func New(fallback Limit, overrides map[string]Limit, opts ...Option) *Limiter {
	l := &Limiter{
		fallback: fallback,
		limits:   make(map[string]Limit, len(overrides)),
		calls:    make(map[string][]time.Time),
		now:      time.Now,
	}
	for k, v := range overrides {
		l.limits[k] = v
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAdmit records a call for sourceKey if the window has room.
// Non-blocking; returns false when the window is full.
func (l *Limiter) TryAdmit(sourceKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.tryAdmitLocked(sourceKey)
	return ok
}

// Admit blocks until a window slot frees for sourceKey or ctx is done.
//
// Suspension is bounded by the window duration: the longest possible wait
// is until the oldest in-window call expires. Returns ctx.Err() if the
// context ends first; the slot is not consumed in that case.
func (l *Limiter) Admit(ctx context.Context, sourceKey string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		wait, ok := l.tryAdmitLocked(sourceKey)
		l.mu.Unlock()

		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Oldest call should have aged out; re-check under the lock.
		}
	}
}

// tryAdmitLocked prunes expired calls and either admits (recording now)
// or returns how long until the oldest call leaves the window.
// Caller must hold l.mu.
func (l *Limiter) tryAdmitLocked(sourceKey string) (wait time.Duration, ok bool) {
	limit := l.limitFor(sourceKey)
	if limit.unlimited() {
		return 0, true
	}

	now := l.now()
	cutoff := now.Add(-limit.Window)

	window := l.calls[sourceKey]
	for len(window) > 0 && !window[0].After(cutoff) {
		window = window[1:]
	}

	if len(window) < limit.MaxCalls {
		l.calls[sourceKey] = append(window, now)
		return 0, true
	}

	l.calls[sourceKey] = window
	return window[0].Add(limit.Window).Sub(now), false
}

// limitFor resolves the limit for a key. Caller must hold l.mu.
func (l *Limiter) limitFor(sourceKey string) Limit {
	if lim, ok := l.limits[sourceKey]; ok {
		return lim
	}
	return l.fallback
}

// InFlight returns the number of in-window calls for a key. Diagnostics
// and tests only.
func (l *Limiter) InFlight(sourceKey string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limitFor(sourceKey)
	if limit.unlimited() {
		return 0
	}

	cutoff := l.now().Add(-limit.Window)
	n := 0
	for _, ts := range l.calls[sourceKey] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
