package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/cascade/internal/compiler"
	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/testutil"
)

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger    *slog.Logger
	observers []engine.Observer
	clock     engine.Sequencer
	flowGen   engine.FlowTokenGenerator
}

// WithLogger routes engine logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithObserver attaches an extra observer (a journal, metrics) to the run.
func WithObserver(o engine.Observer) Option {
	return func(c *runConfig) {
		c.observers = append(c.observers, o)
	}
}

// WithClock replaces the deterministic clock, e.g. to continue numbering
// after an existing journal.
func WithClock(c engine.Sequencer) Option {
	return func(cfg *runConfig) {
		cfg.clock = c
	}
}

// WithFlowGenerator replaces the counting flow tokens.
func WithFlowGenerator(g engine.FlowTokenGenerator) Option {
	return func(cfg *runConfig) {
		cfg.flowGen = g
	}
}

// Run executes a scenario against a fresh System with a deterministic clock
// and counting flow tokens, so repeated runs produce identical traces.
//
// The returned error covers problems with the scenario itself: declarations
// that do not load or validate. Setup and drain failures are reported in
// the Result and checked against ExpectError.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:   testutil.NewDeterministicClock(),
		flowGen: testutil.NewCountingFlowGenerator("flow"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	specs, err := compiler.LoadDir(scenario.Specs)
	if err != nil {
		return nil, fmt.Errorf("loading specs: %w", err)
	}
	if verrs := compiler.Validate(specs); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, ve := range verrs {
			errs[i] = ve
		}
		return nil, fmt.Errorf("invalid specs: %w", errors.Join(errs...))
	}

	recorder := engine.NewRecorder()
	sysOpts := []engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithClock(cfg.clock),
		engine.WithFlowGenerator(cfg.flowGen),
		engine.WithMaxSteps(scenario.MaxSteps),
		engine.WithObserver(recorder),
	}
	for _, o := range cfg.observers {
		sysOpts = append(sysOpts, engine.WithObserver(o))
	}
	sys := engine.New(sysOpts...)
	if err := compiler.Install(sys, specs); err != nil {
		return nil, err
	}

	result := NewResult()
	runErr := execute(ctx, sys, scenario)
	if runErr != nil {
		result.RunError = runErr.Error()
	}

	switch {
	case scenario.ExpectError != "" && runErr == nil:
		result.AddError(fmt.Sprintf("expected error containing %q, run succeeded", scenario.ExpectError))
	case scenario.ExpectError != "" && !strings.Contains(runErr.Error(), scenario.ExpectError):
		result.AddError(fmt.Sprintf("expected error containing %q, got %q", scenario.ExpectError, runErr.Error()))
	case scenario.ExpectError == "" && runErr != nil:
		result.AddError(fmt.Sprintf("run failed: %v", runErr))
	}

	result.System = sys
	result.Records = recorder.Records()
	result.Trace = traceFromRecords(result.Records)
	result.State = snapshotState(sys)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// execute creates the scenario's instances, queues its events and drains.
func execute(ctx context.Context, sys *engine.System, scenario *Scenario) error {
	for i, step := range scenario.Instances {
		if err := createInstance(sys, scenario.Order, step); err != nil {
			return fmt.Errorf("instances[%d]: %w", i, err)
		}
	}

	for i, step := range scenario.Events {
		payload, err := ir.ObjectFromMap(step.Payload)
		if err != nil {
			return fmt.Errorf("events[%d].payload: %w", i, err)
		}
		sys.QueueEvent(step.Component, step.Instance, step.Event, payload)
	}
	return sys.ProcessEvents(ctx)
}

func createInstance(sys *engine.System, order []string, step InstanceStep) error {
	c, ok := sys.Component(step.Component)
	if !ok {
		return fmt.Errorf("%w: %q", engine.ErrComponentNotFound, step.Component)
	}
	data, err := ir.ObjectFromMap(step.Data)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	var opts []engine.InstanceOption
	switch {
	case step.ParentComponent != "":
		opts = append(opts, engine.WithParentRef(ir.InstanceRef{Component: step.ParentComponent, ID: step.Parent}))
	case step.Parent != "":
		opts = append(opts, engine.WithParent(step.Parent))
	}

	if len(order) > 0 {
		_, err = c.CreateInstanceInOrder(step.ID, data, order, opts...)
	} else {
		_, err = c.CreateInstance(step.ID, data, opts...)
	}
	return err
}

func snapshotState(sys *engine.System) map[string]ir.Object {
	state := make(map[string]ir.Object)
	for _, name := range sys.Components() {
		c, _ := sys.Component(name)
		for _, inst := range c.Instances() {
			state[inst.Ref().String()] = inst.Data
		}
	}
	return state
}
