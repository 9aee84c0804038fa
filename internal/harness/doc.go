// Package harness runs YAML sync scenarios against a real store and sync
// loop, with the remote store scripted step by step.
//
// A scenario applies mutations, scripts push outcomes, delivers remote
// change events, and drains the queue, then asserts on the final queue and
// entity state. Every run records a trace of what happened; traces are
// deterministic (fixed clock, serialized workers, in-memory database) and
// can be pinned with golden files.
package harness
