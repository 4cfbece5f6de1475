// Package bench orchestrates benchmark runs: it walks the scenario
// matrix, provisions a workspace per scenario, times the builds, drives
// the hot-patch session, and feeds every sink that is configured.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"buildbench/pkg/build"
	"buildbench/pkg/config"
	"buildbench/pkg/eventlog"
	"buildbench/pkg/hotpatch"
	"buildbench/pkg/logx"
	"buildbench/pkg/metrics"
	"buildbench/pkg/persistence"
	"buildbench/pkg/scenario"
	"buildbench/pkg/workspace"
)

// Workspace is the per-scenario build directory as the runner sees it.
type Workspace interface {
	Root() string
	RewriteSource(content string) error
	Cleanup()
}

// Provisioner materializes the workspace for one prepared scenario.
type Provisioner func(prepared scenario.Prepared) (Workspace, error)

func defaultProvision(prepared scenario.Prepared) (Workspace, error) {
	ws, err := workspace.Provision(prepared)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Options wires a Runner. Executor and Launcher are required; Store,
// Events, and Recorder are optional sinks that are skipped when nil.
//
//nolint:govet // Field order groups required parts before sinks.
type Options struct {
	Config   config.Config
	Executor build.Executor
	Launcher hotpatch.Launcher

	// Provision defaults to real temporary-directory workspaces.
	Provision Provisioner

	Store    *persistence.Store
	Events   *eventlog.Writer
	Recorder *metrics.Recorder

	Console    io.Writer
	ErrConsole io.Writer

	// RunID names the run in every sink, so the transcript file and the
	// history row can be matched up. Empty generates a fresh ID.
	RunID string

	// Version is recorded with the run history.
	Version string
}

// Result holds the measurements of one scenario. A nil duration means
// the phase did not run or did not finish; Err carries the failure that
// stopped the scenario.
type Result struct {
	Prepared scenario.Prepared
	Clean    *time.Duration
	Second   *time.Duration
	Hotpatch *time.Duration
	Err      error
}

// Runner executes benchmark runs. The first scenario failure aborts the
// whole run; results recorded up to that point are kept.
type Runner struct {
	opts     Options
	builds   *build.Runner
	monitor  *hotpatch.Monitor
	reporter *Reporter
	logger   *logx.Logger

	currentSlug string
	results     []*Result
}

// NewRunner assembles a runner from its parts.
func NewRunner(opts Options) *Runner {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.ErrConsole == nil {
		opts.ErrConsole = os.Stderr
	}
	if opts.Provision == nil {
		opts.Provision = defaultProvision
	}

	r := &Runner{
		opts:     opts,
		reporter: NewReporter(opts.Console),
		logger:   logx.NewLogger("bench"),
	}
	r.builds = build.NewRunner(opts.Executor, opts.Config.BuildCommand).WithConsole(opts.Console)
	r.monitor = hotpatch.NewMonitor(opts.Launcher, hotpatch.Options{
		Argv:         opts.Config.ServeCommand,
		PollInterval: opts.Config.PollInterval(),
		ReadyTimeout: opts.Config.ReadyTimeout(),
		PatchTimeout: opts.Config.PatchTimeout(),
		KillGrace:    opts.Config.KillGrace(),
		Console:      opts.Console,
		ErrConsole:   opts.ErrConsole,
		Observer:     r.observeStream,
	})
	return r
}

// Filter returns the scenarios whose slug contains the substring. An
// empty filter keeps everything.
func Filter(scenarios []scenario.Scenario, only string) []scenario.Scenario {
	if only == "" {
		return scenarios
	}
	var matched []scenario.Scenario
	for _, s := range scenarios {
		if strings.Contains(s.Slug(), only) {
			matched = append(matched, s)
		}
	}
	return matched
}

// Run executes every selected scenario in matrix order. It returns the
// first scenario failure, annotated with the slug it happened in.
func (r *Runner) Run(ctx context.Context) error {
	prepared := scenario.PrepareAll(Filter(scenario.Matrix(), r.opts.Config.Only))
	if len(prepared) == 0 {
		return fmt.Errorf("no scenarios match filter %q", r.opts.Config.Only)
	}

	fmt.Fprintf(r.opts.Console, "Benchmarking %d scenario(s)...\n", len(prepared))

	runID := r.opts.RunID
	if runID == "" {
		runID = persistence.GenerateRunID()
	}
	run := &persistence.Run{
		ID:             runID,
		StartedAt:      time.Now(),
		ScenarioCount:  len(prepared),
		Status:         persistence.RunStatusRunning,
		HarnessVersion: r.opts.Version,
	}
	if r.opts.Store != nil {
		if err := r.opts.Store.BeginRun(run); err != nil {
			return fmt.Errorf("failed to record run start: %w", err)
		}
	}
	r.logEvent(&eventlog.Event{Type: eventlog.TypeRunStarted})

	var runErr error
	for i := range prepared {
		p := prepared[i]
		res := r.runScenario(ctx, p)
		r.results = append(r.results, res)

		if recErr := r.record(run.ID, res); recErr != nil && res.Err == nil {
			res.Err = recErr
		}
		if res.Err != nil {
			runErr = fmt.Errorf("benchmark failed for %s: %w", p.Slug, res.Err)
			break
		}
	}

	if runErr == nil {
		r.reporter.Summary(r.results)
		fmt.Fprintf(r.opts.Console, "\nAll scenarios completed.\n")
	}

	finished := time.Now()
	if err := r.finish(run, finished, runErr); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// finish closes out the run in every sink. When the run already failed
// the original error wins and sink trouble is only logged.
func (r *Runner) finish(run *persistence.Run, finished time.Time, runErr error) error {
	if r.opts.Recorder != nil {
		r.opts.Recorder.ObserveRun(run.StartedAt, finished)
		if r.opts.Config.MetricsFile != "" {
			if err := r.opts.Recorder.WriteTextfile(r.opts.Config.MetricsFile); err != nil {
				if runErr != nil {
					r.logger.Warn("Failed to export metrics: %v", err)
				} else {
					return err
				}
			}
		}
	}

	event := &eventlog.Event{Type: eventlog.TypeRunFinished}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	r.logEvent(event)

	if r.opts.Store == nil {
		return nil
	}
	run.FinishedAt = &finished
	run.Status = persistence.RunStatusCompleted
	if runErr != nil {
		run.Status = persistence.RunStatusFailed
	}
	if err := r.opts.Store.FinishRun(run); err != nil {
		if runErr != nil {
			r.logger.Warn("Failed to record run finish: %v", err)
			return nil
		}
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// runScenario measures one scenario: provision, clean build, second
// build, and the hot-patch session when the scenario wants one. The
// results line is only printed when everything succeeded, matching the
// abort-on-failure contract.
func (r *Runner) runScenario(ctx context.Context, p scenario.Prepared) *Result {
	fmt.Fprintf(r.opts.Console, "\n=== Scenario: %s ===\n", p.Slug)
	fmt.Fprintln(r.opts.Console, p.Scenario.Describe())

	r.currentSlug = p.Slug
	r.logEvent(&eventlog.Event{Type: eventlog.TypeScenarioStarted, Slug: p.Slug})

	res := &Result{Prepared: p}

	ws, err := r.opts.Provision(p)
	if err != nil {
		res.Err = err
		return res
	}
	defer ws.Cleanup()

	clean, err := r.builds.Run(ctx, ws.Root(), "clean")
	if err != nil {
		res.Err = err
		return res
	}
	res.Clean = &clean
	r.observeBuild(p.Slug, "clean", clean)

	second, err := r.builds.Run(ctx, ws.Root(), "second")
	if err != nil {
		res.Err = err
		return res
	}
	res.Second = &second
	r.observeBuild(p.Slug, "second", second)

	if p.Scenario.WantsHotpatch() {
		latency, err := r.monitor.Run(ctx, ws, p)
		if err != nil {
			if r.opts.Recorder != nil {
				r.opts.Recorder.IncSessionFailure(failureReason(err))
			}
			res.Err = err
			return res
		}
		res.Hotpatch = &latency
		if r.opts.Recorder != nil {
			r.opts.Recorder.ObserveHotpatch(p.Slug, latency)
		}
		seconds := latency.Seconds()
		r.logEvent(&eventlog.Event{Type: eventlog.TypeHotpatchFinished, Slug: p.Slug, Seconds: &seconds})
	}

	r.reporter.Timings(res)
	return res
}

// record persists the scenario outcome to the configured sinks.
func (r *Runner) record(runID string, res *Result) error {
	success := res.Err == nil
	if r.opts.Recorder != nil {
		r.opts.Recorder.ObserveScenario(success)
	}

	event := &eventlog.Event{Type: eventlog.TypeScenarioFinished, Slug: res.Prepared.Slug}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}
	r.logEvent(event)

	if r.opts.Store == nil {
		return nil
	}
	row := &persistence.ScenarioResult{
		RunID:           runID,
		Slug:            res.Prepared.Slug,
		CleanSeconds:    optSeconds(res.Clean),
		SecondSeconds:   optSeconds(res.Second),
		HotpatchSeconds: optSeconds(res.Hotpatch),
		Status:          persistence.ResultStatusOK,
		RecordedAt:      time.Now(),
	}
	if res.Err != nil {
		row.Status = persistence.ResultStatusFailed
		row.Detail = res.Err.Error()
	}
	if err := r.opts.Store.RecordResult(row); err != nil {
		return err
	}
	return nil
}

func (r *Runner) observeBuild(slug, kind string, d time.Duration) {
	if r.opts.Recorder != nil {
		r.opts.Recorder.ObserveBuild(slug, kind, d)
	}
	seconds := d.Seconds()
	r.logEvent(&eventlog.Event{Type: eventlog.TypeBuildFinished, Slug: slug, Label: kind, Seconds: &seconds})
}

// observeStream feeds echoed dev-server lines into the run transcript.
func (r *Runner) observeStream(ev hotpatch.StreamEvent) {
	if ev.Kind != hotpatch.EventLine {
		return
	}
	r.logEvent(&eventlog.Event{
		Type:   eventlog.TypeServerLine,
		Slug:   r.currentSlug,
		Stream: ev.Tag.String(),
		Line:   ev.Line,
	})
}

// logEvent is best effort: the transcript is diagnostics, losing one
// line must not abort a run that is minutes into its measurements.
func (r *Runner) logEvent(event *eventlog.Event) {
	if r.opts.Events == nil {
		return
	}
	if err := r.opts.Events.Write(event); err != nil {
		r.logger.Warn("Failed to record transcript event: %v", err)
	}
}

func optSeconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	return persistence.Seconds(*d)
}

// failureReason buckets a session error for the failure counter.
func failureReason(err error) string {
	var timeoutErr *hotpatch.TimeoutError
	var exitErr *hotpatch.ExitError
	switch {
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &exitErr):
		return "process_died"
	case errors.Is(err, hotpatch.ErrChannelLost):
		return "channel_lost"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "spawn"
	}
}
