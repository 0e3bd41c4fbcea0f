package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/testutil"
)

// journal runs the kitchen scenario into a fresh database with flow-1.
func journal(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "cascade.db")
	_, err := runWith(t, &RunOptions{Database: db, FlowGenerator: testutil.NewCountingFlowGenerator("flow")}, kitchenScenario)
	require.NoError(t, err)
	return db
}

type traceResponse struct {
	Status string      `json:"status"`
	Data   TraceResult `json:"data"`
}

func decodeTrace(t *testing.T, out string) TraceResult {
	t.Helper()
	var resp traceResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestTraceListsFlows(t *testing.T) {
	db := journal(t)

	out, err := execute(t, "trace", "--db", db, "--no-color")
	require.NoError(t, err)
	assert.Equal(t, "1 flow(s):\n  flow-1\n", out)
}

func TestTraceFlowText(t *testing.T) {
	db := journal(t)

	out, err := execute(t, "trace", "--db", db, "--flow", "flow-1", "--no-color")
	require.NoError(t, err)

	assert.Contains(t, out, "Trace: flow flow-1")
	assert.Contains(t, out, "[1] person/alice FELT_HUNGER handled")
	assert.Contains(t, out, "→ person/alice STARTED_MOVING")
	assert.Contains(t, out, `update {"isHungry":true}`)
	assert.Contains(t, out, "[6] household/home FOOD_FOUND handled ↑")
	assert.Contains(t, out, "6 dispatch(es): 6 handled, 0 skipped, 0 failed, 1 propagated, 4 send(s)")
}

func TestTraceFlowJSON(t *testing.T) {
	db := journal(t)

	out, err := execute(t, "trace", "--db", db, "--flow", "flow-1", "--format", "json")
	require.NoError(t, err)

	result := decodeTrace(t, out)
	assert.Equal(t, "flow flow-1", result.Query)
	require.Len(t, result.Timeline, 6)
	for i, rec := range result.Timeline {
		assert.Equal(t, int64(i+1), rec.Seq)
	}
	assert.Equal(t, TraceStats{Dispatches: 6, Handled: 6, Propagated: 1, Sends: 4}, result.Stats)
}

func TestTraceInstanceWithEventFilter(t *testing.T) {
	db := journal(t)

	out, err := execute(t, "trace", "--db", db, "--instance", "person/alice", "--event", "FOOD_FOUND", "--format", "json")
	require.NoError(t, err)

	result := decodeTrace(t, out)
	assert.Equal(t, "instance person/alice, event FOOD_FOUND", result.Query)
	require.Len(t, result.Timeline, 1)
	assert.Equal(t, "FOOD_FOUND", result.Timeline[0].Event)
	assert.False(t, result.Timeline[0].Propagated)
}

func TestTraceJournalByOutcome(t *testing.T) {
	db := journal(t)

	out, err := execute(t, "trace", "--db", db, "--outcome", "handled", "--format", "json")
	require.NoError(t, err)
	result := decodeTrace(t, out)
	assert.Equal(t, "journal, outcome handled", result.Query)
	assert.Len(t, result.Timeline, 6)

	out, err = execute(t, "trace", "--db", db, "--outcome", "failed", "--no-color")
	require.NoError(t, err)
	assert.Equal(t, "No dispatches found for journal, outcome failed\n", out)
}

func TestTraceLineage(t *testing.T) {
	db := journal(t)

	st, err := store.Open(db)
	require.NoError(t, err)
	records, err := st.ReadFlow(context.Background(), "flow-1")
	require.NoError(t, err)
	require.NoError(t, st.Close())
	leaf := records[len(records)-1]

	out, err := execute(t, "trace", "--db", db, "--lineage", leaf.ID, "--format", "json")
	require.NoError(t, err)

	result := decodeTrace(t, out)
	require.Len(t, result.Timeline, 6)
	assert.Equal(t, "FELT_HUNGER", result.Timeline[0].Event)
	assert.Empty(t, result.Timeline[0].CauseID)
	assert.Equal(t, leaf.ID, result.Timeline[5].ID)
}

func TestTraceUnknownLineageIsEmpty(t *testing.T) {
	db := journal(t)

	out, err := execute(t, "trace", "--db", db, "--lineage", "nope", "--no-color")
	require.NoError(t, err)
	assert.Equal(t, "No dispatches found for lineage nope\n", out)
}

func TestTraceErrors(t *testing.T) {
	db := journal(t)

	t.Run("missing database", func(t *testing.T) {
		_, err := execute(t, "trace", "--db", filepath.Join(t.TempDir(), "none.db"), "--no-color")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("db flag required", func(t *testing.T) {
		_, err := execute(t, "trace", "--flow", "flow-1")
		require.Error(t, err)
	})

	t.Run("bad instance", func(t *testing.T) {
		_, err := execute(t, "trace", "--db", db, "--instance", "alice", "--no-color")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("selectors are exclusive", func(t *testing.T) {
		_, err := execute(t, "trace", "--db", db, "--flow", "flow-1", "--lineage", "x")
		require.Error(t, err)
	})

	t.Run("lineage takes no filters", func(t *testing.T) {
		_, err := execute(t, "trace", "--db", db, "--lineage", "x", "--event", "PING")
		require.Error(t, err)
	})
}

func TestDescribeFilter(t *testing.T) {
	assert.Equal(t, "flow f, event E", describeFilter(store.Filter{FlowToken: "f", Event: "E"}))
	assert.Equal(t, "instance person/alice", describeFilter(store.Filter{Component: "person", InstanceID: "alice"}))
	assert.Equal(t, "journal, outcome failed", describeFilter(store.Filter{Outcome: engine.OutcomeFailed}))
}

func TestComputeStats(t *testing.T) {
	stats := computeStats([]engine.TraceRecord{
		{Outcome: engine.OutcomeHandled, Sends: []engine.Sent{{}, {}}},
		{Outcome: engine.OutcomeMissingHandler, Propagated: true},
		{Outcome: engine.OutcomeFailed},
	})
	assert.Equal(t, TraceStats{Dispatches: 3, Handled: 1, Skipped: 1, Failed: 1, Propagated: 1, Sends: 2}, stats)
}
