package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/compiler"
)

// ValidationResult holds validation results. Cycles are warnings and do
// not make a directory invalid.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Components int                        `json:"components"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
	Warnings   []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate component declarations",
		Long: `Validate CUE component declarations without running them.

Checks each declaration, then resolves parent, child and send references
across the set. Handler loops that could cascade forever are reported as
warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	loaded, err := LoadSpecs(specsDir)
	if err != nil {
		_ = f.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "validation failed", err)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, specsDir)

	result := ValidationResult{
		Components: len(loaded.Components),
		Errors:     compiler.Validate(loaded.Components),
		Warnings:   compiler.AnalyzeCycles(loaded.Components),
	}
	result.Valid = len(result.Errors) == 0

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeInvalid,
				Message: fmt.Sprintf("%d validation error(s)", len(result.Errors)),
			}
		}
		if err := f.JSON(resp); err != nil {
			return err
		}
	} else {
		for _, w := range result.Warnings {
			fmt.Fprintf(f.Writer, "%s %s\n", f.Warn("warning:"), w.Message)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(f.Writer, "%s %s\n", f.Fail("✗"), e.Error())
		}
		if result.Valid {
			fmt.Fprintf(f.Writer, "%s %d component(s) valid\n", f.Pass("✓"), result.Components)
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
	}
	return nil
}
