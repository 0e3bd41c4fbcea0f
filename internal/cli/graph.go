package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/compiler"
	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/graph"
	"github.com/roach88/cascade/internal/harness"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Scenario string
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph [specs-dir]",
		Short: "Export the handler graph as Mermaid",
		Long: `Inspect component declarations and print a Mermaid flowchart of
handlers, send edges and propagation edges.

With --scenario the scenario is run first: its instances are drawn and the
handlers that ran (or failed) are highlighted.

Examples:
  cascade graph ./specs
  cascade graph --scenario ./scenarios/kitchen.yaml
  cascade graph ./specs --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var specsDir string
			if len(args) > 0 {
				specsDir = args[0]
			}
			return runGraph(opts, specsDir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "run this scenario and overlay its trace")

	return cmd
}

func runGraph(opts *GraphOptions, specsDir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		sys     *engine.System
		overlay *graph.Overlay
	)
	switch {
	case opts.Scenario != "":
		scenario, err := harness.LoadScenario(opts.Scenario)
		if err != nil {
			_ = f.Error(ErrCodeLoadFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load scenario", err)
		}
		result, err := harness.Run(ctx, scenario)
		if err != nil {
			_ = f.Error(ErrCodeInvalid, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to run scenario", err)
		}
		sys = result.System
		overlay = graph.OverlayFromTrace(result.Records)
	case specsDir != "":
		loaded, err := LoadValidSpecs(specsDir)
		if err != nil {
			_ = f.Error(loadErrorCode(err), err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load specs", err)
		}
		sys = engine.New(engine.WithLogger(logger))
		if err := compiler.Install(sys, loaded.Components); err != nil {
			return WrapExitError(ExitCommandError, "failed to install components", err)
		}
	default:
		_ = f.Error(ErrCodeGeneric, "a specs directory or --scenario is required", nil)
		return NewExitError(ExitCommandError, "a specs directory or --scenario is required")
	}

	g := graph.Build(ctx, sys, logger)
	if opts.Format == "json" {
		return f.Success(g)
	}
	fmt.Fprint(f.Writer, graph.Mermaid(g, overlay))
	return nil
}
