// Package harness runs declarative conformance scenarios against the sync
// engine.
//
// A scenario is a YAML file describing an initial feed of works and
// releases, a sequence of sync cycles with optional upstream mutations and
// scripted calendar failures between them, and assertions over the final
// sync states, calendar contents, and audit trail.
//
// Scenarios run against an in-memory SQLite store and an in-memory fake
// calendar, with fixed cycle tokens, a stepping wall clock, single-worker
// cycles, and no real backoff sleeps, so every run of a scenario produces
// the same audit trail. That determinism is what makes golden-file
// comparison of trails meaningful: the trail snapshot is the behavioral
// contract of the engine, and an unintended change to retry ordering,
// probe placement, or state transitions shows up as a golden diff.
package harness
