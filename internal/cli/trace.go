package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	FlowToken string
	Instance  string // component/id
	Lineage   string // dispatch id
	Event     string
	Outcome   string
}

// TraceResult is the trace command's output.
type TraceResult struct {
	Query    string               `json:"query"`
	Timeline []engine.TraceRecord `json:"timeline"`
	Stats    TraceStats           `json:"stats"`
}

// TraceStats summarizes a timeline.
type TraceStats struct {
	Dispatches int `json:"dispatches"`
	Handled    int `json:"handled"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Propagated int `json:"propagated"`
	Sends      int `json:"sends"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query the dispatch journal",
		Long: `Query a SQLite journal written by "cascade run --db".

Without a selector or filter, lists the journal's flows. Select with one of:
  --flow      every dispatch of a flow, in seq order
  --instance  every dispatch that targeted component/id
  --lineage   the cause chain of a dispatch, root first

--event and --outcome narrow a flow, an instance or the whole journal.

Examples:
  cascade trace --db ./cascade.db
  cascade trace --db ./cascade.db --flow 0190c3c0-...
  cascade trace --db ./cascade.db --instance person/alice --event FOOD_FOUND
  cascade trace --db ./cascade.db --outcome failed
  cascade trace --db ./cascade.db --lineage <dispatch-id> --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.FlowToken, "flow", "", "flow token to trace")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "instance to trace, as component/id")
	cmd.Flags().StringVar(&opts.Lineage, "lineage", "", "dispatch id whose cause chain to show")
	cmd.Flags().StringVar(&opts.Event, "event", "", "only show dispatches of this event")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "only show dispatches with this outcome")
	cmd.MarkFlagsMutuallyExclusive("flow", "instance", "lineage")
	cmd.MarkFlagsMutuallyExclusive("lineage", "event")
	cmd.MarkFlagsMutuallyExclusive("lineage", "outcome")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(opts.Database); err != nil {
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var (
		query   string
		records []engine.TraceRecord
	)
	if opts.Lineage != "" {
		query = "lineage " + opts.Lineage
		records, err = st.ReadLineage(ctx, opts.Lineage)
		if errors.Is(err, sql.ErrNoRows) {
			records, err = nil, nil
		}
	} else {
		filter := store.Filter{
			FlowToken: opts.FlowToken,
			Event:     opts.Event,
			Outcome:   engine.Outcome(opts.Outcome),
		}
		if opts.Instance != "" {
			ref, perr := parseInstanceArg(opts.Instance)
			if perr != nil {
				_ = f.Error(ErrCodeGeneric, perr.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid --instance", perr)
			}
			filter.Component, filter.InstanceID = ref.Component, ref.ID
		}
		if filter == (store.Filter{}) {
			return listFlows(ctx, f, st)
		}
		query = describeFilter(filter)
		records, err = st.Find(ctx, filter)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query journal", err)
	}

	result := TraceResult{Query: query, Timeline: records, Stats: computeStats(records)}
	if result.Timeline == nil {
		result.Timeline = []engine.TraceRecord{}
	}

	if opts.Format == "json" {
		return f.Success(result)
	}
	return outputTraceText(f, result)
}

// parseInstanceArg accepts component/id.
func parseInstanceArg(s string) (ir.InstanceRef, error) {
	component, id, ok := strings.Cut(s, "/")
	if !ok || component == "" || id == "" {
		return ir.InstanceRef{}, fmt.Errorf("instance %q is not of the form component/id", s)
	}
	return ir.InstanceRef{Component: component, ID: id}, nil
}

func listFlows(ctx context.Context, f *OutputFormatter, st *store.Store) error {
	flows, err := st.FlowTokens(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list flows", err)
	}
	if f.Format == "json" {
		return f.Success(map[string]any{"flows": flows})
	}
	if len(flows) == 0 {
		fmt.Fprintln(f.Writer, "Journal is empty.")
		return nil
	}
	fmt.Fprintf(f.Writer, "%d flow(s):\n", len(flows))
	for _, flow := range flows {
		fmt.Fprintf(f.Writer, "  %s\n", flow)
	}
	return nil
}

// describeFilter names a filter for the timeline header.
func describeFilter(f store.Filter) string {
	var parts []string
	switch {
	case f.FlowToken != "":
		parts = append(parts, "flow "+f.FlowToken)
	case f.Component != "":
		parts = append(parts, "instance "+ir.InstanceRef{Component: f.Component, ID: f.InstanceID}.String())
	default:
		parts = append(parts, "journal")
	}
	if f.Event != "" {
		parts = append(parts, "event "+f.Event)
	}
	if f.Outcome != "" {
		parts = append(parts, "outcome "+string(f.Outcome))
	}
	return strings.Join(parts, ", ")
}

func computeStats(records []engine.TraceRecord) TraceStats {
	s := TraceStats{Dispatches: len(records)}
	for _, r := range records {
		switch r.Outcome {
		case engine.OutcomeHandled:
			s.Handled++
		case engine.OutcomeFailed:
			s.Failed++
		default:
			s.Skipped++
		}
		if r.Propagated {
			s.Propagated++
		}
		s.Sends += len(r.Sends)
	}
	return s
}

func outputTraceText(f *OutputFormatter, result TraceResult) error {
	w := f.Writer
	if len(result.Timeline) == 0 {
		fmt.Fprintf(w, "No dispatches found for %s\n", result.Query)
		return nil
	}

	fmt.Fprintf(w, "Trace: %s\n\n", result.Query)
	for _, r := range result.Timeline {
		outcome := string(r.Outcome)
		switch r.Outcome {
		case engine.OutcomeHandled:
			outcome = f.Pass(outcome)
		case engine.OutcomeFailed:
			outcome = f.Fail(outcome)
		default:
			outcome = f.Warn(outcome)
		}

		marker := ""
		if r.Propagated {
			marker = f.Dim(" ↑")
		}
		fmt.Fprintf(w, "  [%d] %s %s %s%s\n", r.Seq, r.Target, r.Event, outcome, marker)

		if len(r.Update) > 0 {
			data, err := ir.MarshalCanonical(r.Update)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "        update %s\n", f.Dim(string(data)))
		}
		for _, s := range r.Sends {
			fmt.Fprintf(w, "        → %s %s\n", s.Target, s.Event)
		}
		if r.Error != "" {
			fmt.Fprintf(w, "        error: %s\n", f.Fail(r.Error))
		}
	}

	s := result.Stats
	fmt.Fprintf(w, "\n%d dispatch(es): %d handled, %d skipped, %d failed, %d propagated, %d send(s)\n",
		s.Dispatches, s.Handled, s.Skipped, s.Failed, s.Propagated, s.Sends)
	return nil
}
