package publish

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

// setupTestPublisher creates a publisher connected to a miniredis instance.
func setupTestPublisher(t *testing.T, opts ...Option) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	p := New(mr.Addr(), append([]Option{WithNamespace("test")}, opts...)...)
	t.Cleanup(func() { p.Close() })
	return p, mr
}

func testRecord(seq int64, flow, event string) engine.TraceRecord {
	return engine.TraceRecord{
		ID:        "id-" + event,
		Seq:       seq,
		FlowToken: flow,
		Target:    ir.InstanceRef{Component: "person", ID: "alice"},
		Event:     event,
		Payload:   ir.Object{"food": ir.String("pizza")},
		Outcome:   engine.OutcomeHandled,
		Update:    ir.Object{"isHungry": ir.Bool(true)},
		StateHash: "hash-" + event,
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "cascade:ns:events", EventsChannel("ns"))
	assert.Equal(t, "cascade:ns:flow:f1", FlowKey("ns", "f1"))
	assert.Equal(t, "cascade:ns:instance:person:alice", InstanceKey("ns", ir.InstanceRef{Component: "person", ID: "alice"}))
}

func TestPing(t *testing.T) {
	p, _ := setupTestPublisher(t)
	assert.NoError(t, p.Ping(context.Background()))
	assert.Equal(t, "test", p.Namespace())
}

func TestObserveWritesFlowAndInstance(t *testing.T) {
	p, mr := setupTestPublisher(t)
	ctx := context.Background()

	first := testRecord(1, "flow-1", "HUNGRY")
	second := testRecord(2, "flow-1", "FULL")
	require.NoError(t, p.Observe(ctx, first))
	require.NoError(t, p.Observe(ctx, second))

	records, err := p.FlowRecords(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, []engine.TraceRecord{first, second}, records)

	state, err := p.LatestState(ctx, first.Target)
	require.NoError(t, err)
	assert.Equal(t, InstanceState{
		Seq: 2, Event: "FULL", Outcome: engine.OutcomeHandled, StateHash: "hash-FULL", FlowToken: "flow-1",
	}, state)

	assert.True(t, mr.Exists("cascade:test:flow:flow-1"))
	assert.Equal(t, time.Duration(0), mr.TTL("cascade:test:flow:flow-1"))
}

func TestObserveAppliesTTL(t *testing.T) {
	p, mr := setupTestPublisher(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, p.Observe(ctx, testRecord(1, "flow-1", "HUNGRY")))
	assert.Equal(t, time.Minute, mr.TTL("cascade:test:flow:flow-1"))
	assert.Equal(t, time.Minute, mr.TTL("cascade:test:instance:person:alice"))

	mr.FastForward(2 * time.Minute)
	records, err := p.FlowRecords(ctx, "flow-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLatestStateUnknown(t *testing.T) {
	p, _ := setupTestPublisher(t)
	_, err := p.LatestState(context.Background(), ir.InstanceRef{Component: "x", ID: "y"})
	assert.ErrorIs(t, err, redis.Nil)
}

func TestSubscribeReceivesRecords(t *testing.T) {
	p, _ := setupTestPublisher(t)
	ctx := context.Background()

	sub, err := p.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	rec := testRecord(1, "flow-1", "HUNGRY")
	require.NoError(t, p.Observe(ctx, rec))

	select {
	case got := <-sub.Records():
		assert.Equal(t, rec, got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for record")
	}
}

func TestSubscribeReportsBadMessages(t *testing.T) {
	p, mr := setupTestPublisher(t)
	ctx := context.Background()

	sub, err := p.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish(EventsChannel("test"), "not json")

	select {
	case err := <-sub.Errors():
		assert.Contains(t, err.Error(), "unmarshal")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error")
	}
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	p, _ := setupTestPublisher(t)

	sub, err := p.Subscribe(context.Background())
	require.NoError(t, err)
	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Records():
		assert.False(t, ok, "records channel closes after Close")
	case <-time.After(time.Second):
		t.Fatal("records channel not closed")
	}
}

func TestPublisherAsEngineObserver(t *testing.T) {
	p, _ := setupTestPublisher(t)
	ctx := context.Background()

	sys := engine.New(
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithFlowGenerator(engine.NewFixedGenerator("flow-x")),
		engine.WithObserver(p),
	)
	counter, err := sys.CreateComponent("counter", ir.Object{"n": ir.Int(0)}, "")
	require.NoError(t, err)
	counter.On("INC", engine.Const(engine.Result{Update: ir.Object{"n": ir.Int(1)}, Send: engine.NoSend()}))
	_, err = counter.CreateInstance("c1", nil)
	require.NoError(t, err)

	sys.QueueEvent("counter", "c1", "INC", nil)
	require.NoError(t, sys.ProcessEvents(ctx))

	records, err := p.FlowRecords(ctx, "flow-x")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ir.Object{"n": ir.Int(1)}, records[0].Update)

	state, err := p.LatestState(ctx, ir.InstanceRef{Component: "counter", ID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, records[0].StateHash, state.StateHash)
	assert.NotEmpty(t, state.StateHash)
}

func TestCloseLeavesBorrowedClientOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewFromClient(client)
	require.NoError(t, p.Close())
	assert.NoError(t, client.Ping(context.Background()).Err())
	assert.Equal(t, "default", p.Namespace())
}
