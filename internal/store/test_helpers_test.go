package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a handled dispatch with minimal required fields.
func createTestRecord(id, flowToken, causeID string, seq int64) engine.TraceRecord {
	return engine.TraceRecord{
		ID:        id,
		Seq:       seq,
		FlowToken: flowToken,
		CauseID:   causeID,
		Target:    ir.InstanceRef{Component: "person", ID: "alice"},
		Event:     "PING",
		Payload:   ir.Object{},
		Outcome:   engine.OutcomeHandled,
	}
}

// runRelay drives a small cascade through an engine with the store attached:
// sender.GO -> relay.HOP -> sink.LAND, where sink.LAND propagates to hub.
func runRelay(t *testing.T, s *Store) *engine.Recorder {
	t.Helper()
	rec := engine.NewRecorder()
	sys := engine.New(
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithFlowGenerator(engine.NewFixedGenerator("flow-a", "flow-b")),
		engine.WithObserver(rec),
		engine.WithObserver(s),
	)

	must := func(c *engine.Component, err error) *engine.Component {
		t.Helper()
		if err != nil {
			t.Fatalf("CreateComponent: %v", err)
		}
		return c
	}
	hub := must(sys.CreateComponent("hub", ir.Object{"landed": ir.Int(0)}, ""))
	sender := must(sys.CreateComponent("sender", ir.Object{}, ""))
	relay := must(sys.CreateComponent("relay", ir.Object{}, ""))
	sink := must(sys.CreateComponent("sink", ir.Object{"hops": ir.Array{}}, "hub"))

	hub.On("LAND", engine.Const(engine.Result{Update: ir.Object{"landed": ir.Int(1)}, Send: engine.NoSend()}))
	sender.On("GO", engine.Const(engine.Emit(engine.Send{
		Component: "relay", Event: "HOP", Data: ir.Object{"instanceId": ir.String("r1"), "n": ir.Int(1)},
	})))
	relay.On("HOP", engine.Const(engine.Emit(engine.Send{
		Component: "sink", Event: "LAND", Data: ir.Object{"instanceId": ir.String("k1")},
	})))
	sink.On("LAND", engine.Const(engine.Update(ir.Object{"hops": ir.Strings("r1")})))

	for _, inst := range []struct {
		c    *engine.Component
		id   string
		opts []engine.InstanceOption
	}{
		{hub, "h1", nil},
		{sender, "s1", nil},
		{relay, "r1", nil},
		{sink, "k1", []engine.InstanceOption{engine.WithParent("h1")}},
	} {
		if _, err := inst.c.CreateInstance(inst.id, nil, inst.opts...); err != nil {
			t.Fatalf("CreateInstance(%s): %v", inst.id, err)
		}
	}

	sys.QueueEvent("sender", "s1", "GO", nil)
	sys.QueueEvent("hub", "h1", "MISSING", ir.Object{"x": ir.Int(1)})
	if err := sys.ProcessEvents(context.Background()); err != nil {
		t.Fatalf("ProcessEvents: %v", err)
	}
	return rec
}
