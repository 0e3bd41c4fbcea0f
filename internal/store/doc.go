// Package store provides a SQLite-backed journal of dispatch trace records.
//
// A Store is an engine.Observer: attach it with engine.WithObserver and
// every dispatch is appended as it happens. The journal holds:
//   - Dispatches: one row per TraceRecord (target, payload, outcome, update)
//   - Sends: the follow-on events each dispatch enqueued, in order
//
// Rows are keyed by the content-addressed dispatch ID from internal/ir, so
// writing the same record twice is a no-op. The cause_id column links a
// dispatch to the dispatch whose send (or propagation) produced it, which
// lets ReadLineage walk a cascade back to the externally queued event.
//
// # Ordering
//
// All queries order by seq ASC, id ASC COLLATE BINARY. seq comes from the
// engine's logical clock, never wall time, so reads are identical across
// runs of the same scenario.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
