// Package engine is the event-dependency runtime.
//
// A Dependency binds triggering UI events to a frontend transform, a
// backend call, or both. The Manager owns every dependency, indexes them
// by id and by "{event}-{component}" key, and is the single entry point
// for dispatching events.
//
// DISPATCH:
//
// For each dependency an event resolves to, in declaration order:
//  1. cancel in-flight invocations of the ids it lists in cancels
//  2. gate on trigger mode: run, skip (once), or defer (always_last)
//  3. gather input values from the StateStore
//  4. apply event-specific args to target components until the run ends
//  5. send input as a chunk when a stream connection is already open
//  6. otherwise run the dependency and consume its submission
//
// Consumption applies data as it arrives, drives loading status, fires
// chained dependencies on completion or failure, and merges re-rendered
// dependency sets.
//
// CONCURRENCY:
//
// The Manager is safe for concurrent use. One mutex guards all indexes and
// bookkeeping; no collaborator is called while it is held. Gating and the
// reservation of an invocation slot happen in one critical section.
//
// Chained triggers, deferred replays and state-change events do not
// recurse. They go onto a FIFO work queue that Run (long-lived, one
// goroutine per dispatch) or Drain (synchronous) processes. Every root
// dispatch carries a QuotaEnforcer so trigger cycles terminate.
package engine
