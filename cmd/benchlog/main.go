package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"buildbench/pkg/eventlog"
	"buildbench/pkg/version"
)

// AnalyzeConfig holds configuration for the transcript analyzer
type AnalyzeConfig struct {
	LogFile   string
	Baseline  string
	LogDir    string
	Threshold float64
	Verbose   bool
}

// ScenarioTimings collects the measurements one transcript recorded for a scenario
type ScenarioTimings struct {
	Slug        string
	Clean       *float64
	Second      *float64
	Hotpatch    *float64
	ServerLines int
	Failure     string
}

// RunSummary is everything extracted from one run transcript
type RunSummary struct {
	Path      string
	Scenarios []*ScenarioTimings
	RunError  string
	Finished  bool
}

// Regression flags one timing that got slower than the baseline allows
type Regression struct {
	Slug     string
	Phase    string
	Baseline float64
	Current  float64
}

// PercentSlower reports how much slower the current timing is, in percent.
func (r Regression) PercentSlower() float64 {
	return (r.Current - r.Baseline) / r.Baseline * 100
}

func main() {
	var config AnalyzeConfig
	var showHelp bool
	var showVersion bool

	// Parse command line flags
	flag.StringVar(&config.LogFile, "log", "", "Path to a run transcript (events-<run>.jsonl)")
	flag.StringVar(&config.Baseline, "baseline", "", "Baseline transcript to compare -log against")
	flag.StringVar(&config.LogDir, "dir", "", "List every transcript in a log directory")
	flag.Float64Var(&config.Threshold, "threshold", 25, "Regression threshold in percent")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose output")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showHelp, "help", false, "Show help")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Benchlog - Run Transcript Analyzer\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s -log <events.jsonl> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Description:\n")
		fmt.Fprintf(os.Stderr, "  Reads benchmark run transcripts, summarizes per-scenario build and\n")
		fmt.Fprintf(os.Stderr, "  hot-patch timings, and compares runs against a baseline to catch\n")
		fmt.Fprintf(os.Stderr, "  build-time regressions.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -log logs/events-2026-08-21.jsonl\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -dir logs\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -log logs/new.jsonl -baseline logs/old.jsonl -threshold 10\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("benchlog %s\n  commit: %s\n  built:  %s\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Validate required arguments
	if config.LogFile == "" && config.LogDir == "" {
		fmt.Fprintf(os.Stderr, "Error: -log or -dir flag is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if config.Baseline != "" && config.LogFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -baseline needs -log to compare against\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// Run the analyzer
	exitCode, err := runAnalyzer(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(exitCode)
}

func runAnalyzer(config AnalyzeConfig) (int, error) {
	switch {
	case config.LogDir != "":
		return listTranscripts(config)
	case config.Baseline != "":
		return compareTranscripts(config)
	default:
		return summarizeTranscript(config)
	}
}

func summarizeTranscript(config AnalyzeConfig) (int, error) {
	summary, err := collectSummary(config.LogFile)
	if err != nil {
		return 1, err
	}
	if len(summary.Scenarios) == 0 {
		return 1, fmt.Errorf("no scenario events found in %s", config.LogFile)
	}

	fmt.Printf("📊 %d scenario(s) in %s\n\n", len(summary.Scenarios), filepath.Base(config.LogFile))
	for _, st := range summary.Scenarios {
		fmt.Printf("%s\n", st.Slug)
		fmt.Printf("   clean=%s, second=%s, hotpatch=%s\n",
			formatSeconds(st.Clean), formatSeconds(st.Second), formatSeconds(st.Hotpatch))
		if config.Verbose && st.ServerLines > 0 {
			fmt.Printf("   server lines: %d\n", st.ServerLines)
		}
		if st.Failure != "" {
			fmt.Printf("   ❌ %s\n", st.Failure)
		}
	}

	fmt.Printf("\n")
	switch {
	case summary.RunError != "":
		fmt.Printf("🚨 Run failed: %s\n", summary.RunError)
		return 1, nil
	case !summary.Finished:
		fmt.Printf("🚨 Transcript ends mid-run, no closing event recorded\n")
		return 1, nil
	default:
		fmt.Printf("✅ Run completed: all %d scenario(s) recorded\n", len(summary.Scenarios))
		return 0, nil
	}
}

func compareTranscripts(config AnalyzeConfig) (int, error) {
	// Step 1: Read both transcripts
	baseline, err := collectSummary(config.Baseline)
	if err != nil {
		return 1, fmt.Errorf("failed to read baseline: %w", err)
	}
	current, err := collectSummary(config.LogFile)
	if err != nil {
		return 1, fmt.Errorf("failed to read transcript: %w", err)
	}

	if config.Verbose {
		fmt.Printf("🎬 Comparing %s against %s\n", filepath.Base(config.LogFile), filepath.Base(config.Baseline))
		fmt.Printf("   Threshold: %.0f%%\n\n", config.Threshold)
	}

	// Step 2: Flag every timing that slowed down past the threshold
	regressions, compared := compareRuns(baseline, current, config.Threshold)
	if compared == 0 {
		return 1, fmt.Errorf("no common scenarios between %s and %s", config.LogFile, config.Baseline)
	}

	for _, reg := range regressions {
		fmt.Printf("❌ %s %s: %.3fs → %.3fs (+%.1f%%)\n",
			reg.Slug, reg.Phase, reg.Baseline, reg.Current, reg.PercentSlower())
	}

	// Step 3: Determine exit code
	if len(regressions) > 0 {
		fmt.Printf("\n🚨 Regression check FAILED: %d timing(s) slower than baseline\n", len(regressions))
		return 1, nil // Non-zero exit code for regressions
	}
	fmt.Printf("✅ Regression check PASSED: %d scenario(s) within %.0f%% of baseline\n", compared, config.Threshold)
	return 0, nil
}

func listTranscripts(config AnalyzeConfig) (int, error) {
	paths, err := eventlog.ListTranscripts(config.LogDir)
	if err != nil {
		return 1, err
	}
	if len(paths) == 0 {
		return 1, fmt.Errorf("no transcripts found in %s", config.LogDir)
	}
	sort.Strings(paths)

	for _, path := range paths {
		summary, err := collectSummary(path)
		if err != nil {
			fmt.Printf("🚨 %s: %v\n", filepath.Base(path), err)
			continue
		}
		status := "✅"
		switch {
		case summary.RunError != "":
			status = "❌"
		case !summary.Finished:
			status = "🔄"
		}
		fmt.Printf("%s %s: %d scenario(s)\n", status, filepath.Base(path), len(summary.Scenarios))
	}
	return 0, nil
}

// collectSummary folds a transcript's event stream into per-scenario
// timings. Events arrive in run order, so a scenario's measurements are
// complete once its closing event is seen.
func collectSummary(path string) (*RunSummary, error) {
	events, err := eventlog.ReadEvents(path)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{Path: path}
	bySlug := make(map[string]*ScenarioTimings)
	timings := func(slug string) *ScenarioTimings {
		st, ok := bySlug[slug]
		if !ok {
			st = &ScenarioTimings{Slug: slug}
			bySlug[slug] = st
			summary.Scenarios = append(summary.Scenarios, st)
		}
		return st
	}

	for _, ev := range events {
		switch ev.Type {
		case eventlog.TypeScenarioStarted:
			timings(ev.Slug)
		case eventlog.TypeBuildFinished:
			st := timings(ev.Slug)
			switch ev.Label {
			case "clean":
				st.Clean = ev.Seconds
			case "second":
				st.Second = ev.Seconds
			}
		case eventlog.TypeHotpatchFinished:
			timings(ev.Slug).Hotpatch = ev.Seconds
		case eventlog.TypeServerLine:
			timings(ev.Slug).ServerLines++
		case eventlog.TypeScenarioFinished:
			if ev.Error != "" {
				timings(ev.Slug).Failure = ev.Error
			}
		case eventlog.TypeRunFinished:
			summary.Finished = true
			summary.RunError = ev.Error
		}
	}
	return summary, nil
}

// compareRuns matches scenarios by slug and flags timings that are more
// than threshold percent slower than the baseline. It also reports how
// many scenarios the two runs had in common.
func compareRuns(baseline, current *RunSummary, threshold float64) ([]Regression, int) {
	base := make(map[string]*ScenarioTimings, len(baseline.Scenarios))
	for _, st := range baseline.Scenarios {
		base[st.Slug] = st
	}

	var regressions []Regression
	compared := 0
	for _, st := range current.Scenarios {
		ref, ok := base[st.Slug]
		if !ok {
			continue
		}
		compared++

		phases := []struct {
			name string
			ref  *float64
			cur  *float64
		}{
			{"clean", ref.Clean, st.Clean},
			{"second", ref.Second, st.Second},
			{"hotpatch", ref.Hotpatch, st.Hotpatch},
		}
		for _, phase := range phases {
			// A phase only counts when both runs measured it.
			if phase.ref == nil || phase.cur == nil || *phase.ref <= 0 {
				continue
			}
			reg := Regression{Slug: st.Slug, Phase: phase.name, Baseline: *phase.ref, Current: *phase.cur}
			if reg.PercentSlower() > threshold {
				regressions = append(regressions, reg)
			}
		}
	}
	return regressions, compared
}

func formatSeconds(s *float64) string {
	if s == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3fs", *s)
}
