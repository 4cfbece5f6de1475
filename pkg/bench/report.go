package bench

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"buildbench/pkg/config"
	"buildbench/pkg/persistence"
	"buildbench/pkg/scenario"
)

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// Reporter renders run output beyond the per-scenario protocol lines.
// Status coloring is enabled only when writing to a terminal.
type Reporter struct {
	w     io.Writer
	color bool
}

// NewReporter creates a reporter for the given console writer.
func NewReporter(w io.Writer) *Reporter {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Reporter{w: w, color: color}
}

// Timings prints the one-line result summary of a finished scenario.
func (rep *Reporter) Timings(res *Result) {
	fmt.Fprintf(rep.w, "[bench] Results for %s -> clean=%s, second=%s, hotpatch=%s\n",
		res.Prepared.Slug,
		formatDuration(res.Clean),
		formatDuration(res.Second),
		formatDuration(res.Hotpatch),
	)
}

// Summary prints the results of all scenarios as one aligned table.
func (rep *Reporter) Summary(results []*Result) {
	if len(results) == 0 {
		return
	}

	slugWidth := len("Scenario")
	for _, res := range results {
		if len(res.Prepared.Slug) > slugWidth {
			slugWidth = len(res.Prepared.Slug)
		}
	}

	fmt.Fprintf(rep.w, "\n%-*s  %10s  %10s  %10s  %s\n", slugWidth, "Scenario", "Clean", "Second", "Hotpatch", "Status")
	for _, res := range results {
		fmt.Fprintf(rep.w, "%-*s  %10s  %10s  %10s  %s\n",
			slugWidth, res.Prepared.Slug,
			formatDuration(res.Clean),
			formatDuration(res.Second),
			formatDuration(res.Hotpatch),
			rep.status(res.Err == nil),
		)
	}
}

func (rep *Reporter) status(ok bool) string {
	if !rep.color {
		if ok {
			return "ok"
		}
		return "failed"
	}
	if ok {
		return colorGreen + "ok" + colorReset
	}
	return colorRed + "failed" + colorReset
}

// formatDuration renders a measured duration with millisecond
// precision, or n/a for a phase that produced no measurement.
func formatDuration(d *time.Duration) string {
	if d == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ListSlugs prints every scenario the filter selects, one per line in
// matrix order, slug first so the output stays grep-friendly.
func ListSlugs(w io.Writer, only string) {
	selected := Filter(scenario.Matrix(), only)

	slugWidth := 0
	for _, s := range selected {
		if len(s.Slug()) > slugWidth {
			slugWidth = len(s.Slug())
		}
	}
	for _, s := range selected {
		fmt.Fprintf(w, "%-*s  %s\n", slugWidth, s.Slug(), s.Describe())
	}
}

// PrintPlan describes what a run would do without executing anything.
func PrintPlan(w io.Writer, cfg config.Config) {
	selected := Filter(scenario.Matrix(), cfg.Only)

	fmt.Fprintf(w, "Dry run: %d scenario(s) selected\n", len(selected))
	fmt.Fprintf(w, "  build command: %s\n", strings.Join(cfg.BuildCommand, " "))
	fmt.Fprintf(w, "  serve command: %s\n", strings.Join(cfg.ServeCommand, " "))
	fmt.Fprintf(w, "  ready timeout: %s, patch timeout: %s\n", cfg.ReadyTimeout(), cfg.PatchTimeout())
	for _, s := range selected {
		marker := "build only"
		if s.WantsHotpatch() {
			marker = "build + hotpatch"
		}
		fmt.Fprintf(w, "    %s (%s)\n", s.Slug(), marker)
	}
}

// DryRun renders the plan and materializes every selected workspace
// once, so the templates and the filesystem are proven out without the
// toolchain ever running.
func DryRun(w io.Writer, cfg config.Config, provision Provisioner) error {
	PrintPlan(w, cfg)
	if provision == nil {
		provision = defaultProvision
	}

	for _, p := range scenario.PrepareAll(Filter(scenario.Matrix(), cfg.Only)) {
		ws, err := provision(p)
		if err != nil {
			return fmt.Errorf("dry run failed for %s: %w", p.Slug, err)
		}
		ws.Cleanup()
	}
	fmt.Fprintln(w, "Workspace templates verified.")
	return nil
}

// PrintHistory lists recent runs from the results database, newest
// first.
func PrintHistory(w io.Writer, summaries []*persistence.RunSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No recorded runs.")
		return
	}

	for _, s := range summaries {
		duration := "running"
		if s.FinishedAt != nil {
			duration = fmt.Sprintf("%.0fs", s.FinishedAt.Sub(s.StartedAt).Seconds())
		}
		fmt.Fprintf(w, "%s  %s  %-9s  %d/%d ok  %s\n",
			shortID(s.ID),
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Status,
			s.Succeeded, s.Recorded,
			duration,
		)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
