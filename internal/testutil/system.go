package testutil

import (
	"io"
	"log/slog"

	"github.com/roach88/cascade/internal/engine"
)

// NewSystem returns a System with a deterministic clock, counting flow
// tokens and a discarded log, plus a Recorder already attached. Extra
// options are applied after the defaults.
func NewSystem(opts ...engine.Option) (*engine.System, *engine.Recorder) {
	rec := engine.NewRecorder()
	base := []engine.Option{
		engine.WithClock(NewDeterministicClock()),
		engine.WithFlowGenerator(NewCountingFlowGenerator("flow")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithObserver(rec),
	}
	return engine.New(append(base, opts...)...), rec
}
