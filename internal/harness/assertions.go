package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

// AssertionError is returned when an assertion fails. It carries the trace
// so the failure message shows what actually ran.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s (%s)\n", ev.Seq, ev.Target, ev.Event, ev.Outcome)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.State, a)
		case AssertInstanceCount:
			err = assertInstanceCount(result.State, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertTraceContains passes when some dispatch matches the event key and
// every optional filter: instance, outcome, propagated and payload subset.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	expected, err := ir.ObjectFromMap(a.Payload)
	if err != nil {
		return fmt.Errorf("trace_contains %s: payload: %w", a.Event, err)
	}

	for _, ev := range trace {
		if ev.Key() != a.Event {
			continue
		}
		if a.Instance != "" && ev.Target.ID != a.Instance {
			continue
		}
		if a.Outcome != "" && ev.Outcome != engine.Outcome(a.Outcome) {
			continue
		}
		if a.Propagated != nil && ev.Propagated != *a.Propagated {
			continue
		}
		if matchSubset(ev.Payload, expected) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeMatch(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder passes when the listed events occur as a subsequence of
// the trace. Other dispatches may come between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Events) && ev.Key() == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}

	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: strings.Join(a.Events, " -> "),
		Actual:   fmt.Sprintf("matched %d of %d, missing %s", next, len(a.Events), a.Events[next]),
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Key() != a.Event {
			continue
		}
		if a.Outcome != "" && ev.Outcome != engine.Outcome(a.Outcome) {
			continue
		}
		n++
	}
	if n == a.Count {
		return nil
	}

	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s dispatched %d time(s)", a.Event, a.Count),
		Actual:   fmt.Sprintf("dispatched %d time(s)", n),
		Trace:    trace,
	}
}

// assertFinalState compares the listed fields of one instance record.
// Fields not listed are ignored.
func assertFinalState(state map[string]ir.Object, a Assertion) error {
	ref := ir.InstanceRef{Component: a.Component, ID: a.Instance}
	record, ok := state[ref.String()]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("instance %s", ref),
			Actual:   "instance does not exist",
		}
	}

	expected, err := ir.ObjectFromMap(a.Expect)
	if err != nil {
		return fmt.Errorf("final_state %s: expect: %w", ref, err)
	}

	var mismatches []string
	for _, k := range expected.SortedKeys() {
		got, found := record[k]
		switch {
		case !found:
			mismatches = append(mismatches, fmt.Sprintf("%s missing", k))
		case !ir.Equal(got, expected[k]):
			mismatches = append(mismatches, fmt.Sprintf("%s = %s, want %s", k, render(got), render(expected[k])))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}

	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s matches %s", ref, render(expected)),
		Actual:   strings.Join(mismatches, "; "),
	}
}

func assertInstanceCount(state map[string]ir.Object, a Assertion) error {
	prefix := a.Component + "/"
	n := 0
	for key := range state {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertInstanceCount,
		Expected: fmt.Sprintf("%d %s instance(s)", a.Count, a.Component),
		Actual:   fmt.Sprintf("%d instance(s)", n),
	}
}

// matchSubset reports whether every key of expected is present in actual
// with an equal value. Extra keys in actual are ignored.
func matchSubset(actual, expected ir.Object) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !ir.Equal(got, want) {
			return false
		}
	}
	return true
}

func describeMatch(a Assertion) string {
	var b strings.Builder
	b.WriteString(a.Event)
	if a.Instance != "" {
		fmt.Fprintf(&b, " on %s", a.Instance)
	}
	if a.Outcome != "" {
		fmt.Fprintf(&b, " outcome=%s", a.Outcome)
	}
	if a.Propagated != nil {
		fmt.Fprintf(&b, " propagated=%t", *a.Propagated)
	}
	if len(a.Payload) > 0 {
		fmt.Fprintf(&b, " payload %v", a.Payload)
	}
	return b.String()
}

func render(v ir.Value) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
