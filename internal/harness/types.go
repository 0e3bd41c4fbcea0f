package harness

import (
	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

// TraceEvent is one dispatch as the harness reports it. Content-addressed
// ids are replaced by seq numbers so traces read well in golden files.
type TraceEvent struct {
	Seq        int64          `json:"seq"`
	Flow       string         `json:"flow"`
	Cause      int64          `json:"cause,omitempty"`
	Target     ir.InstanceRef `json:"target"`
	Event      string         `json:"event"`
	Payload    ir.Object      `json:"payload"`
	Outcome    engine.Outcome `json:"outcome"`
	Propagated bool           `json:"propagated,omitempty"`
	Update     ir.Object      `json:"update,omitempty"`
	Sends      []string       `json:"sends,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Key is the "component.EVENT" form used by trace assertions.
func (e TraceEvent) Key() string {
	return e.Target.Component + "." + e.Event
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when the run matched expect_error and every assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// State holds the final record of every instance, keyed "component/id".
	State map[string]ir.Object `json:"state,omitempty"`

	// RunError is the error returned by instance setup or the drain, if any.
	RunError string `json:"run_error,omitempty"`

	// System and Records are the drained engine and its raw dispatches,
	// kept for callers that render or persist them.
	System  *engine.System       `json:"-"`
	Records []engine.TraceRecord `json:"-"`
}

// NewResult creates a passing, empty result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ir.Object),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traceFromRecords converts engine records, resolving cause ids to seqs.
func traceFromRecords(records []engine.TraceRecord) []TraceEvent {
	seqByID := make(map[string]int64, len(records))
	for _, rec := range records {
		seqByID[rec.ID] = rec.Seq
	}

	trace := make([]TraceEvent, 0, len(records))
	for _, rec := range records {
		ev := TraceEvent{
			Seq:        rec.Seq,
			Flow:       rec.FlowToken,
			Cause:      seqByID[rec.CauseID],
			Target:     rec.Target,
			Event:      rec.Event,
			Payload:    rec.Payload,
			Outcome:    rec.Outcome,
			Propagated: rec.Propagated,
			Update:     rec.Update,
			Error:      rec.Error,
		}
		if ev.Payload == nil {
			ev.Payload = ir.Object{}
		}
		for _, s := range rec.Sends {
			ev.Sends = append(ev.Sends, s.Target.String()+" "+s.Event)
		}
		trace = append(trace, ev)
	}
	return trace
}
