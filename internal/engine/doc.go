// Package engine implements the cascade reactive component runtime.
//
// A System owns a registry of named components. Each component keeps a
// store of instance records seeded from its data model and a table of
// event handlers. Events are queued against a target instance and drained
// in strict FIFO order by ProcessEvents; a handler returns a Result whose
// Update is shallow-merged into the target record and whose Send list is
// appended to the back of the queue.
//
// Single-Writer Dispatch:
// Exactly one handler runs at a time. Events sent by a handler are only
// dispatched after every event queued before them, which makes cascades
// deterministic for a given initial state and event sequence.
//
// Relationships:
// Components declare parent and child components. Instances are linked
// to a parent instance through a relationship arena owned by the System,
// so parent, child and sibling views are always derived from one source.
//
// Default Propagation:
// When a handler leaves Send unset and the component declares a parent,
// the same event is dispatched immediately to the linked parent instance
// if the parent component handles it. NoSend() suppresses this.
//
// Every dispatched event is stamped with a monotonic seq from the logical
// Clock and carries a flow token inherited by everything it sends.
package engine
