// Package harness runs YAML cascade scenarios.
//
// A scenario names a directory of CUE component declarations, the instances
// to create and the events to queue. Run installs the declarations into a
// fresh System with a deterministic clock and counting flow tokens, drains
// the queue and evaluates assertions against the resulting trace and final
// instance records:
//
//	trace_contains  some dispatch of component.EVENT matches the filters
//	trace_order     the listed dispatches occur in this order
//	trace_count     component.EVENT was dispatched exactly count times
//	final_state     an instance record holds the expected fields
//	instance_count  a component holds exactly count instances
//
// Traces serialize to canonical JSON lines for golden comparison. Event ids
// are content hashes, so golden traces refer to causes by seq instead.
package harness
