package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/ir"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSystem builds a System with deterministic flow tokens, a silent
// logger and a Recorder attached.
func newTestSystem(t *testing.T, opts ...Option) (*System, *Recorder) {
	t.Helper()
	rec := NewRecorder()
	base := []Option{
		WithLogger(discardLogger()),
		WithFlowGenerator(NewFixedGenerator("flow-1", "flow-2", "flow-3")),
		WithObserver(rec),
	}
	return New(append(base, opts...)...), rec
}

func mustComponent(t *testing.T, sys *System, name string, model ir.Object, parent string) *Component {
	t.Helper()
	c, err := sys.CreateComponent(name, model, parent)
	require.NoError(t, err)
	return c
}

func mustInstance(t *testing.T, c *Component, id string, data ir.Object, opts ...InstanceOption) Instance {
	t.Helper()
	inst, err := c.CreateInstance(id, data, opts...)
	require.NoError(t, err)
	return inst
}

func mustData(t *testing.T, c *Component, id string) ir.Object {
	t.Helper()
	inst, ok := c.Instance(id)
	require.True(t, ok, "instance %s/%s should exist", c.Name(), id)
	return inst.Data
}

func drain(t *testing.T, sys *System) {
	t.Helper()
	require.NoError(t, sys.ProcessEvents(context.Background()))
}
