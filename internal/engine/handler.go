package engine

import (
	"context"

	"github.com/roach88/cascade/internal/ir"
)

// Handler reacts to one event delivered to one instance.
//
// The returned Result is applied by the dispatcher: Update is merged into
// the target record, Send is appended to the queue. A non-nil error stops
// the drain with a HANDLER_FAILED RuntimeError.
type Handler func(ctx context.Context, call Call) (Result, error)

// Call carries the dispatch a handler is invoked for.
type Call struct {
	Component  *Component
	InstanceID string
	Event      string
	Payload    ir.Object
	FlowToken  string
}

// Instance returns the current view of the target instance.
func (c Call) Instance() (Instance, bool) {
	return c.Component.Instance(c.InstanceID)
}

// Data returns a copy of the target record, or nil when the instance is gone.
func (c Call) Data() ir.Object {
	inst, ok := c.Instance()
	if !ok {
		return nil
	}
	return inst.Data
}

// Result is what a handler asks the dispatcher to do.
//
// A nil Send means "not set" and allows default propagation to the parent
// instance. An empty non-nil Send (see NoSend) means "send nothing" and
// suppresses propagation.
type Result struct {
	Update ir.Object
	Send   []Send
}

// Send is one follow-on event. Component defaults to the sending
// component. The target instance is Data["instanceId"] when it holds a
// string, otherwise the sending instance.
type Send struct {
	Component string
	Event     string
	Data      ir.Object
}

// NoSend returns an explicitly empty send list.
func NoSend() []Send {
	return []Send{}
}

// Update is shorthand for a Result that only merges fields.
func Update(partial ir.Object) Result {
	return Result{Update: partial}
}

// Emit is shorthand for a Result that only sends events.
func Emit(sends ...Send) Result {
	if sends == nil {
		sends = NoSend()
	}
	return Result{Send: sends}
}

// Const returns a Handler that always yields r.
func Const(r Result) Handler {
	return func(context.Context, Call) (Result, error) {
		return r, nil
	}
}
