package metrics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

func newObserver(t *testing.T) (*Observer, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	obs, err := New(reg)
	require.NoError(t, err)
	return obs, reg
}

func TestObserveCountsOutcomes(t *testing.T) {
	obs, _ := newObserver(t)
	ctx := context.Background()

	person := ir.InstanceRef{Component: "person", ID: "alice"}
	fridge := ir.InstanceRef{Component: "fridge", ID: "kitchen"}

	require.NoError(t, obs.Observe(ctx, engine.TraceRecord{
		Seq: 1, Target: person, Event: "HUNGRY", Outcome: engine.OutcomeHandled,
		Sends: []engine.Sent{{Target: fridge, Event: "OPEN"}, {Target: person, Event: "WALK"}},
	}))
	require.NoError(t, obs.Observe(ctx, engine.TraceRecord{
		Seq: 2, Target: fridge, Event: "OPEN", Outcome: engine.OutcomeHandled,
	}))
	require.NoError(t, obs.Observe(ctx, engine.TraceRecord{
		Seq: 3, Target: person, Event: "WALK", Outcome: engine.OutcomeMissingHandler,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.dispatches.WithLabelValues("person", "HUNGRY", "handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.dispatches.WithLabelValues("person", "WALK", "missing_handler")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.sends.WithLabelValues("fridge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.sends.WithLabelValues("person")))
	assert.Equal(t, 3.0, testutil.ToFloat64(obs.lastSeq))
	assert.Equal(t, 2, testutil.CollectAndCount(obs.fanout), "one series per handling component")
}

func TestObserveEngineRun(t *testing.T) {
	obs, reg := newObserver(t)

	sys := engine.New(
		engine.WithLogger(discardLogger()),
		engine.WithObserver(obs),
	)
	house, err := sys.CreateComponent("house", nil, "")
	require.NoError(t, err)
	room, err := sys.CreateComponent("room", nil, "house")
	require.NoError(t, err)

	house.On("KNOCK", engine.Const(engine.Update(ir.Object{"knocked": ir.Bool(true)})))
	room.On("KNOCK", engine.Const(engine.Result{}))

	_, err = house.CreateInstance("h", nil)
	require.NoError(t, err)
	_, err = room.CreateInstance("r", nil, engine.WithParent("h"))
	require.NoError(t, err)

	sys.QueueEvent("room", "r", "KNOCK", nil)
	require.NoError(t, sys.ProcessEvents(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.propagations.WithLabelValues("house", "KNOCK")))

	expected := `
# HELP cascade_dispatches_total Total number of dispatched events by outcome
# TYPE cascade_dispatches_total counter
cascade_dispatches_total{component="house",event="KNOCK",outcome="handled"} 1
cascade_dispatches_total{component="room",event="KNOCK",outcome="handled"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, bytes.NewBufferString(expected), "cascade_dispatches_total"))
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestWriteTextAndHandler(t *testing.T) {
	obs, reg := newObserver(t)
	require.NoError(t, obs.Observe(context.Background(), engine.TraceRecord{
		Seq: 7, Target: ir.InstanceRef{Component: "c", ID: "i"}, Event: "E", Outcome: engine.OutcomeHandled,
	}))

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reg))
	assert.Contains(t, buf.String(), `cascade_dispatches_total{component="c",event="E",outcome="handled"} 1`)
	assert.Contains(t, buf.String(), "cascade_last_seq 7")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cascade_last_seq 7")
}
