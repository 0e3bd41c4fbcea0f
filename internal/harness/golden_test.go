package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

func TestRunWithGolden_Kitchen(t *testing.T) {
	result, err := RunWithGolden(t, loadScenario(t, "kitchen.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestMarshalTrace_OmitsZeroFields(t *testing.T) {
	data, err := MarshalTrace("tiny", []TraceEvent{{
		Seq:     1,
		Flow:    "f",
		Target:  ir.InstanceRef{Component: "lamp", ID: "l1"},
		Event:   "ON",
		Payload: ir.Object{},
		Outcome: engine.OutcomeMissingHandler,
	}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"dispatches":1,"scenario":"tiny"}`, lines[0])
	assert.Equal(t,
		`{"event":"ON","flow":"f","outcome":"missing_handler","payload":{},"seq":1,"target":{"component":"lamp","id":"l1"}}`,
		lines[1])
}
