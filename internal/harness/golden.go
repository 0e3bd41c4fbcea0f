package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cascade/internal/ir"
)

// MarshalTrace renders a trace as canonical JSON lines: a header naming
// the scenario, then one line per dispatch.
func MarshalTrace(scenarioName string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer

	header, err := ir.MarshalCanonical(map[string]any{"scenario": scenarioName, "dispatches": len(trace)})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for _, ev := range trace {
		line, err := ir.MarshalCanonical(ev.canonical())
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// canonical builds the map form of ev. Zero-valued optional fields are
// left out.
func (ev TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"seq":     ev.Seq,
		"flow":    ev.Flow,
		"target":  ir.Object{"component": ir.String(ev.Target.Component), "id": ir.String(ev.Target.ID)},
		"event":   ev.Event,
		"payload": ev.Payload,
		"outcome": string(ev.Outcome),
	}
	if ev.Cause != 0 {
		m["cause"] = ev.Cause
	}
	if ev.Propagated {
		m["propagated"] = true
	}
	if ev.Update != nil {
		m["update"] = ev.Update
	}
	if len(ev.Sends) > 0 {
		m["sends"] = ir.Strings(ev.Sends...)
	}
	if ev.Error != "" {
		m["error"] = ev.Error
	}
	return m
}

// RunWithGolden runs the scenario and compares its trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace with the golden file
// named scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
