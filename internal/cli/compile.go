package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
}

// CompilationResult is the compiled form of a specs directory.
type CompilationResult struct {
	EngineVersion string             `json:"engine_version"`
	Components    []ir.ComponentSpec `json:"components"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs-dir>",
		Short: "Compile CUE component declarations to JSON",
		Long: `Compile CUE component declarations, validate them and write the
compiled components as JSON, in declaration order.

Examples:
  cascade compile ./specs
  cascade compile ./specs -o components.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path (default stdout)")

	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	loaded, err := LoadValidSpecs(specsDir)
	if err != nil {
		_ = f.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "compilation failed", err)
	}
	f.VerboseLog("compiled %d component(s) from %d file(s)", len(loaded.Components), loaded.FileCount)

	result := CompilationResult{
		EngineVersion: ir.EngineVersion,
		Components:    loaded.Components,
	}

	if opts.Output == "" {
		if opts.Format == "json" {
			return f.Success(result)
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to marshal components", err)
		}
		fmt.Fprintln(f.Writer, string(data))
		return nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to marshal components", err)
	}
	if err := os.WriteFile(opts.Output, append(data, '\n'), 0o644); err != nil {
		_ = f.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	if opts.Format == "json" {
		return f.Success(map[string]any{
			"output":     opts.Output,
			"components": len(loaded.Components),
			"handlers":   loaded.Handlers(),
		})
	}
	fmt.Fprintf(f.Writer, "%s Compiled %d component(s), %d handler(s) to %s\n",
		f.Pass("✓"), len(loaded.Components), loaded.Handlers(), opts.Output)
	return nil
}
