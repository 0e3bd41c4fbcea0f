package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/cascade/internal/ir"
)

// Outcome classifies what happened to a dispatched event.
type Outcome string

const (
	OutcomeHandled          Outcome = "handled"
	OutcomeMissingComponent Outcome = "missing_component"
	OutcomeMissingHandler   Outcome = "missing_handler"
	OutcomeMissingInstance  Outcome = "missing_instance"
	OutcomeFailed           Outcome = "failed"
)

// TraceRecord describes one dispatch after it has been applied.
type TraceRecord struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	FlowToken string         `json:"flow_token"`
	CauseID   string         `json:"cause_id,omitempty"`
	Target    ir.InstanceRef `json:"target"`
	Event     string         `json:"event"`
	Payload   ir.Object      `json:"payload"`
	Outcome   Outcome        `json:"outcome"`

	// Propagated is true when the dispatch was forwarded from a child
	// instance rather than taken off the queue.
	Propagated bool `json:"propagated,omitempty"`

	Update    ir.Object `json:"update,omitempty"`
	StateHash string    `json:"state_hash,omitempty"`
	Sends     []Sent    `json:"sends,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Sent is a follow-on event as it was enqueued.
type Sent struct {
	Target  ir.InstanceRef `json:"target"`
	Event   string         `json:"event"`
	Payload ir.Object      `json:"payload"`
}

// Observer is notified after every dispatch. Observer errors are logged
// and never interrupt the drain.
type Observer interface {
	Observe(ctx context.Context, rec TraceRecord) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec TraceRecord) error

func (f ObserverFunc) Observe(ctx context.Context, rec TraceRecord) error {
	return f(ctx, rec)
}

// Recorder keeps every TraceRecord in memory.
type Recorder struct {
	mu      sync.Mutex
	records []TraceRecord
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Observe(_ context.Context, rec TraceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// Records returns a copy of the recorded trace in dispatch order.
func (r *Recorder) Records() []TraceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.records)
}

// Handled returns the names of events whose handlers ran, in order.
func (r *Recorder) Handled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range r.records {
		if rec.Outcome == OutcomeHandled || rec.Outcome == OutcomeMissingInstance {
			out = append(out, rec.Event)
		}
	}
	return out
}

// Reset drops all recorded records.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
