package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"buildbench/pkg/bench"
	"buildbench/pkg/build"
	"buildbench/pkg/config"
	"buildbench/pkg/eventlog"
	"buildbench/pkg/hotpatch"
	"buildbench/pkg/metrics"
	"buildbench/pkg/persistence"
	"buildbench/pkg/scenario"
	"buildbench/pkg/version"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		only        = flag.String("only", "", "Run only scenarios whose slug contains this substring")
		list        = flag.Bool("list", false, "List the selected scenario slugs and exit")
		dryRun      = flag.Bool("dry-run", false, "Describe the selected run without building anything")
		dbPath      = flag.String("db", "", "Results database path (overrides config)")
		metricsFile = flag.String("metrics", "", "Prometheus textfile path (overrides config)")
		eventDir    = flag.String("events", "", "Run transcript directory (overrides config)")
		history     = flag.Int("history", 0, "Show the N most recent runs and exit")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("buildbench %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	mergeFlagOverrides(&cfg, *only, *dbPath, *metricsFile, *eventDir)

	if *list {
		bench.ListSlugs(os.Stdout, cfg.Only)
		return
	}
	if *dryRun {
		if err := bench.DryRun(os.Stdout, cfg, nil); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	os.Exit(run(cfg, *history))
}

// mergeFlagOverrides applies command line arguments on top of the
// loaded config. Flags win over the file.
func mergeFlagOverrides(cfg *config.Config, only, dbPath, metricsFile, eventDir string) {
	if only != "" {
		cfg.Only = only
	}
	if dbPath != "" {
		cfg.ResultsDB = dbPath
	}
	if metricsFile != "" {
		cfg.MetricsFile = metricsFile
	}
	if eventDir != "" {
		cfg.EventLogDir = eventDir
	}
}

// run contains the main application logic and returns an exit code.
// This allows defers to execute before os.Exit is called.
func run(cfg config.Config, history int) int {
	if history > 0 {
		if err := printHistory(cfg, history); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	if err := preflight(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := persistence.GenerateRunID()
	opts := bench.Options{
		Config:   cfg,
		Executor: build.NewHostExecutor(),
		Launcher: hotpatch.NewOSLauncher(),
		RunID:    runID,
		Version:  version.Version,
	}

	if cfg.ResultsDB != "" {
		store, err := persistence.Open(cfg.ResultsDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer func() { _ = store.Close() }()
		opts.Store = store
	}

	if cfg.EventLogDir != "" {
		events, err := eventlog.NewWriter(cfg.EventLogDir, runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer func() { _ = events.Close() }()
		opts.Events = events
	}

	if cfg.MetricsFile != "" {
		opts.Recorder = metrics.NewRecorder()
	}

	if err := bench.NewRunner(opts).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// preflight verifies the external tools before any workspace exists.
func preflight(cfg config.Config) error {
	return build.Preflight(requiredTools(cfg)...)
}

// requiredTools derives the commands the selection will actually
// invoke: the serve command only for hot-patch sessions, the compiler
// wrapper only for sccache scenarios (the generated build config sets
// RUSTC_WRAPPER, so a missing wrapper would fail every such build).
func requiredTools(cfg config.Config) [][]string {
	argvs := [][]string{cfg.BuildCommand}
	needServe, needWrapper := false, false
	for _, s := range bench.Filter(scenario.Matrix(), cfg.Only) {
		if s.WantsHotpatch() {
			needServe = true
		}
		if s.Cache == scenario.CacheSccache {
			needWrapper = true
		}
	}
	if needServe {
		argvs = append(argvs, cfg.ServeCommand)
	}
	if needWrapper {
		argvs = append(argvs, []string{"sccache"})
	}
	return argvs
}

func printHistory(cfg config.Config, limit int) error {
	if cfg.ResultsDB == "" {
		return fmt.Errorf("run history needs a results database; set results_db or -db")
	}
	store, err := persistence.Open(cfg.ResultsDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	summaries, err := store.RecentRuns(limit)
	if err != nil {
		return err
	}
	bench.PrintHistory(os.Stdout, summaries)
	return nil
}
