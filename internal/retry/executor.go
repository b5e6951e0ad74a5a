package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config holds the executor's retry policy. Zero values fall back to the
// defaults below.
type Config struct {
	// MaxAttempts bounds transient attempts: after this many failed
	// attempts the call is surfaced as exhausted. Rate-limited waits do
	// not consume the budget.
	MaxAttempts int

	// BaseBackoff is the delay after the first transient failure; each
	// further transient failure doubles it, capped at MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Cooldown is the wait after a rate-limited response when the server
	// did not specify its own Retry-After.
	Cooldown time.Duration
}

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
	defaultCooldown    = 2 * time.Second
)

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	return c
}

// Attempt describes one attempt, reported to the observer before Execute
// returns. Audit history is built from these, so a caller crash after
// Execute cannot lose the record of what the executor did.
type Attempt struct {
	// Number is 1-based and counts every attempt, including ones
	// triggered by rate-limit waits.
	Number int

	// Err is nil on success; otherwise the attempt's error.
	Err error

	// Class is the verdict for Err (zero on success).
	Class Class

	// Duration is how long the attempt itself took (excluding waits).
	Duration time.Duration

	// Wait is the backoff or cool-down chosen before the next attempt;
	// zero when this attempt is final.
	Wait time.Duration
}

// Observer receives every attempt as it completes.
type Observer func(Attempt)

// Error is the terminal failure returned by Execute: the last attempt's
// error together with its classification and the attempts consumed.
type Error struct {
	Class     Class
	Attempts  int
	Exhausted bool // true when a transient error ran out the budget
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("retry: %s error after %d attempts: %v", e.Class, e.Attempts, e.Err)
	}
	return fmt.Sprintf("retry: %s error: %v", e.Class, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf extracts the classification from an Execute error.
// Returns 0 for non-retry errors (e.g. context cancellation).
func ClassOf(err error) Class {
	var re *Error
	if errors.As(err, &re) {
		return re.Class
	}
	return 0
}

// Executor runs operations under the configured retry policy.
// Stateless across calls; one executor is shared by all workers.
type Executor struct {
	cfg Config

	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithJitter replaces the jitter function. Tests pass the identity
// function for deterministic backoff values.
func WithJitter(fn func(time.Duration) time.Duration) Option {
	return func(e *Executor) {
		e.jitter = fn
	}
}

// WithSleep replaces the ctx-aware sleep. Tests substitute a recorder to
// avoid real waiting.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// New creates an executor with the given policy.
func New(cfg Config, opts ...Option) *Executor {
	e := &Executor{
		cfg:    cfg.withDefaults(),
		jitter: addJitter,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op until it succeeds, fails permanently or ambiguously,
// exhausts the transient budget, or ctx is cancelled.
//
// Every attempt — success or failure — is reported to observe before
// Execute returns. A failure caused by ctx ending is shutdown, not a
// server verdict: it bypasses the observer, consumes no budget, and is
// returned as a plain wrapped ctx error so the caller leaves persisted
// state untouched.
//
// Returns nil on success, *Error on a classified terminal failure, or a
// wrapped ctx error on cancellation.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error, classify Classifier, observe Observer) error {
	if observe == nil {
		observe = func(Attempt) {}
	}

	failures := 0 // transient budget consumed
	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: cancelled before attempt %d: %w", number, err)
		}

		start := time.Now()
		err := op(ctx)
		dur := time.Since(start)
		if err == nil {
			observe(Attempt{Number: number, Duration: dur})
			return nil
		}

		// Our own ctx ended mid-attempt. Not an attempt outcome: skip
		// the observer and surface the cancellation. A deadline the op
		// set on its own sub-context falls through to the classifier.
		if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
			return fmt.Errorf("retry: cancelled during attempt %d: %w", number, err)
		}

		verdict := classify(err)
		switch verdict.Class {
		case ClassCancelled:
			return fmt.Errorf("retry: cancelled during attempt %d: %w", number, err)

		case ClassRateLimited:
			wait := verdict.RetryAfter
			if wait <= 0 {
				wait = e.cfg.Cooldown
			}
			observe(Attempt{Number: number, Err: err, Class: verdict.Class, Duration: dur, Wait: wait})
			if serr := e.sleep(ctx, wait); serr != nil {
				return fmt.Errorf("retry: cancelled during cool-down: %w", serr)
			}

		case ClassTransient:
			failures++
			if failures >= e.cfg.MaxAttempts {
				observe(Attempt{Number: number, Err: err, Class: verdict.Class, Duration: dur})
				return &Error{Class: ClassTransient, Attempts: number, Exhausted: true, Err: err}
			}
			wait := e.backoff(failures - 1)
			observe(Attempt{Number: number, Err: err, Class: verdict.Class, Duration: dur, Wait: wait})
			if serr := e.sleep(ctx, wait); serr != nil {
				return fmt.Errorf("retry: cancelled during backoff: %w", serr)
			}

		default:
			// Permanent and Ambiguous surface immediately. Unknown
			// classes are treated as permanent: guessing "retry" on an
			// unclassified error risks duplicate side effects.
			class := verdict.Class
			if class != ClassPermanent && class != ClassAmbiguous {
				class = ClassPermanent
			}
			observe(Attempt{Number: number, Err: err, Class: class, Duration: dur})
			return &Error{Class: class, Attempts: number, Err: err}
		}
	}
}

// backoff computes base * 2^n capped at MaxBackoff, with jitter applied.
func (e *Executor) backoff(n int) time.Duration {
	d := e.cfg.BaseBackoff
	for i := 0; i < n && d < e.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	return e.jitter(d)
}

// addJitter adds up to 50% random jitter so a burst of failed releases
// does not retry in lockstep against the same endpoint.
func addJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
