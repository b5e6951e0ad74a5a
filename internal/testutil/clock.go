// Package testutil provides test doubles shared across packages: a fixed
// wall clock, a fixed cycle token generator, and a scripted in-memory
// calendar client.
package testutil

import (
	"sync"
	"time"
)

// FixedClock returns a now() func frozen at t. Payload timestamps, state
// rows, and audit records all become deterministic under it.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// SteppingClock is a thread-safe wall clock that advances by a fixed step
// on every reading. Distinct timestamps without real time passing.
type SteppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewSteppingClock creates a clock starting at start, advancing by step
// per call to Now.
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{now: start, step: step}
}

// Now returns the current time and advances the clock.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// FixedTokenGenerator generates the same cycle token every time.
//
// Unlike engine.FixedGenerator which returns tokens in sequence, this
// generator always returns the same token. Useful for scenarios where all
// cycles should share one token in golden output.
//
// Thread-safety: FixedTokenGenerator is stateless and safe for concurrent use.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a new fixed cycle token generator.
// If token is empty, Generate() returns "test-cycle-default".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-cycle-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed cycle token.
//
// Implements engine.CycleTokenGenerator.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
