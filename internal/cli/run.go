package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/harness"
	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/metrics"
	"github.com/roach88/cascade/internal/publish"
	"github.com/roach88/cascade/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	RedisAddr   string
	Namespace   string
	RedisTTL    time.Duration
	MetricsAddr string
	MetricsOut  string
	MaxSteps    int

	// FlowGenerator overrides UUIDv7 flow tokens (for tests).
	FlowGenerator engine.FlowTokenGenerator
}

// RunSummary is what run reports after the drain.
type RunSummary struct {
	Scenario   string                 `json:"scenario"`
	Pass       bool                   `json:"pass"`
	Dispatches int                    `json:"dispatches"`
	Flows      []string               `json:"flows"`
	Outcomes   map[engine.Outcome]int `json:"outcomes"`
	State      map[string]ir.Object   `json:"state"`
	RunError   string                 `json:"run_error,omitempty"`
	Errors     []string               `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario against production sinks",
		Long: `Run a scenario's instances and events through the engine with UUIDv7
flow tokens, journaling every dispatch and optionally publishing it.

Sinks:
  --db            append dispatches to a SQLite journal (seq continues
                  from the journal's last dispatch)
  --redis         publish dispatches and instance state to Redis
  --metrics-out   write Prometheus text metrics to a file after the drain
  --metrics-addr  serve /metrics after the drain until interrupted

Examples:
  cascade run ./scenarios/kitchen.yaml --db ./cascade.db
  cascade run ./scenarios/kitchen.yaml --redis localhost:6379 --namespace demo
  cascade run ./scenarios/kitchen.yaml --metrics-addr :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal")
	cmd.Flags().StringVar(&opts.RedisAddr, "redis", "", "Redis address for publishing dispatches")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "default", "Redis key namespace")
	cmd.Flags().DurationVar(&opts.RedisTTL, "redis-ttl", 0, "expiry for published keys (0 keeps them)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address after the run")
	cmd.Flags().StringVar(&opts.MetricsOut, "metrics-out", "", "write Prometheus text metrics to this file")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "override the scenario's step limit (0 keeps it)")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: opts.logLevel()}))
	f := newFormatter(opts.RootOptions, cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = f.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if opts.MaxSteps > 0 {
		scenario.MaxSteps = opts.MaxSteps
	}

	flowGen := opts.FlowGenerator
	if flowGen == nil {
		flowGen = engine.UUIDv7Generator{}
	}
	runOpts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithFlowGenerator(flowGen),
		harness.WithClock(engine.NewClock()),
	}

	if opts.Database != "" {
		logger.Info("opening journal", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		last, err := st.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		runOpts = append(runOpts, harness.WithObserver(st), harness.WithClock(engine.NewClockAt(last)))
	}

	if opts.RedisAddr != "" {
		pub := publish.New(opts.RedisAddr, publish.WithNamespace(opts.Namespace), publish.WithTTL(opts.RedisTTL))
		defer pub.Close()
		if err := pub.Ping(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to reach redis", err)
		}
		logger.Info("publishing dispatches", "addr", opts.RedisAddr, "namespace", pub.Namespace())
		runOpts = append(runOpts, harness.WithObserver(pub))
	}

	reg := prometheus.NewRegistry()
	obs, err := metrics.New(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}
	runOpts = append(runOpts, harness.WithObserver(obs))

	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		_ = f.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}
	logger.Info("scenario drained", "scenario", scenario.Name, "dispatches", len(result.Trace))

	if opts.MetricsOut != "" {
		if err := writeMetricsFile(opts.MetricsOut, reg); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
	}

	summary := summarize(scenario.Name, result)
	if err := outputRunSummary(f, summary); err != nil {
		return err
	}

	if opts.MetricsAddr != "" {
		if err := serveMetrics(ctx, opts.MetricsAddr, reg, logger); err != nil {
			return WrapExitError(ExitCommandError, "metrics server failed", err)
		}
	}

	if !summary.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func summarize(name string, result *harness.Result) RunSummary {
	s := RunSummary{
		Scenario:   name,
		Pass:       result.Pass,
		Dispatches: len(result.Trace),
		Flows:      []string{},
		Outcomes:   make(map[engine.Outcome]int),
		State:      result.State,
		RunError:   result.RunError,
		Errors:     result.Errors,
	}
	seen := make(map[string]bool)
	for _, ev := range result.Trace {
		s.Outcomes[ev.Outcome]++
		if !seen[ev.Flow] {
			seen[ev.Flow] = true
			s.Flows = append(s.Flows, ev.Flow)
		}
	}
	return s
}

func outputRunSummary(f *OutputFormatter, s RunSummary) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: s}
		if !s.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_RUN_FAILED", Message: fmt.Sprintf("scenario %s failed", s.Scenario)}
		}
		return f.JSON(resp)
	}

	w := f.Writer
	mark := f.Pass("✓")
	if !s.Pass {
		mark = f.Fail("✗")
	}
	fmt.Fprintf(w, "%s %s: %d dispatch(es) in %d flow(s)\n", mark, s.Scenario, s.Dispatches, len(s.Flows))
	if s.RunError != "" {
		fmt.Fprintf(w, "  run error: %s\n", s.RunError)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}

	keys := make([]string, 0, len(s.State))
	for k := range s.State {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "\nFinal state:")
	for _, k := range keys {
		data, err := ir.MarshalCanonical(s.State[k])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s %s\n", k, f.Dim(string(data)))
	}
	return nil
}

func writeMetricsFile(path string, g prometheus.Gatherer) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := metrics.WriteText(file, g); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// serveMetrics exposes /metrics until ctx is cancelled or the process is
// interrupted.
func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	}
}
