package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"buildbench/pkg/build"
	"buildbench/pkg/config"
	"buildbench/pkg/eventlog"
	"buildbench/pkg/hotpatch"
	"buildbench/pkg/metrics"
	"buildbench/pkg/persistence"
	"buildbench/pkg/scenario"
)

const (
	buildOnlySlug = "default-linker-incremental-default-dynamic-no-hotpatch"
	hotpatchSlug  = "default-linker-incremental-default-dynamic-dx-hotpatch"
)

// fakeHandle is a scripted stand-in for a spawned dev server.
type fakeHandle struct {
	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	done     chan struct{}
	exitOnce sync.Once
	mu       sync.Mutex
	status   int
	kills    int
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{done: make(chan struct{})}
	h.stdoutR, h.stdoutW = io.Pipe()
	h.stderrR, h.stderrW = io.Pipe()
	return h
}

func (h *fakeHandle) Stdout() io.Reader     { return h.stdoutR }
func (h *fakeHandle) Stderr() io.Reader     { return h.stderrR }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) ExitStatus() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.kills++
	h.mu.Unlock()
	h.exit(-1)
	return nil
}

func (h *fakeHandle) exit(status int) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		h.status = status
		h.mu.Unlock()
		close(h.done)
		_ = h.stdoutW.Close()
		_ = h.stderrW.Close()
	})
}

func (h *fakeHandle) say(line string) {
	_, _ = fmt.Fprintln(h.stdoutW, line)
}

func (h *fakeHandle) killCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kills
}

// fakeBenchWorkspace satisfies both the runner's Workspace and the
// monitor's Patchable without touching the filesystem.
type fakeBenchWorkspace struct {
	root      string
	mu        sync.Mutex
	rewrites  int
	cleanups  int
	onRewrite func(content string)
}

func (w *fakeBenchWorkspace) Root() string { return w.root }

func (w *fakeBenchWorkspace) RewriteSource(content string) error {
	w.mu.Lock()
	w.rewrites++
	hook := w.onRewrite
	w.mu.Unlock()
	if hook != nil {
		hook(content)
	}
	return nil
}

func (w *fakeBenchWorkspace) Cleanup() {
	w.mu.Lock()
	w.cleanups++
	w.mu.Unlock()
}

func (w *fakeBenchWorkspace) setOnRewrite(fn func(string)) {
	w.mu.Lock()
	w.onRewrite = fn
	w.mu.Unlock()
}

func (w *fakeBenchWorkspace) counts() (rewrites, cleanups int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rewrites, w.cleanups
}

// benchHarness provides a provisioner and launcher pair that script a
// successful hot-patch session for every scenario the runner visits.
type benchHarness struct {
	mu         sync.Mutex
	byRoot     map[string]scenario.Prepared
	workspaces map[string]*fakeBenchWorkspace
	handles    []*fakeHandle

	// dieEarly makes every launched process exit with this status before
	// saying anything, for premature-death runs. nil scripts success.
	dieEarly *int
}

func newBenchHarness() *benchHarness {
	return &benchHarness{
		byRoot:     make(map[string]scenario.Prepared),
		workspaces: make(map[string]*fakeBenchWorkspace),
	}
}

func (h *benchHarness) provision(p scenario.Prepared) (Workspace, error) {
	root := "/fake/" + p.Slug
	ws := &fakeBenchWorkspace{root: root}
	h.mu.Lock()
	h.byRoot[root] = p
	h.workspaces[root] = ws
	h.mu.Unlock()
	return ws, nil
}

func (h *benchHarness) Launch(_ context.Context, dir string, _ []string) (hotpatch.Handle, error) {
	h.mu.Lock()
	p, ok := h.byRoot[dir]
	ws := h.workspaces[dir]
	h.mu.Unlock()
	if !ok || ws == nil {
		return nil, fmt.Errorf("no scripted scenario for %s", dir)
	}

	handle := newFakeHandle()
	h.mu.Lock()
	h.handles = append(h.handles, handle)
	dieEarly := h.dieEarly
	h.mu.Unlock()

	if dieEarly != nil {
		go handle.exit(*dieEarly)
		return handle, nil
	}

	confirm := scenario.ConfirmLine(scenario.NextPayloadValue(p.PayloadValue))
	ws.setOnRewrite(func(string) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			handle.say("hot patched in 12ms")
			handle.say(confirm)
		}()
	})

	go func() {
		handle.say("serving at http://127.0.0.1:8080")
		handle.say(p.ReadyMarker)
		handle.say(fmt.Sprintf("PAYLOAD_RANDOM_VALUE=%d", p.PayloadValue))
	}()
	return handle, nil
}

func (h *benchHarness) launchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}

func testConfig(only string) config.Config {
	cfg := config.Default()
	cfg.Only = only
	cfg.PollIntervalMS = 10
	cfg.ReadyTimeoutSeconds = 5
	cfg.PatchTimeoutSeconds = 5
	cfg.KillGraceSeconds = 1
	cfg.ResultsDB = ""
	return cfg
}

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunSingleBuildOnlyScenario(t *testing.T) {
	harness := newBenchHarness()
	mock := build.NewMockExecutor()
	mock.Output = ""
	store := openTestStore(t)

	eventDir := t.TempDir()
	events, err := eventlog.NewWriter(eventDir, "test-run")
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	cfg := testConfig(buildOnlySlug)
	cfg.MetricsFile = filepath.Join(t.TempDir(), "bench.prom")

	var console bytes.Buffer
	runner := NewRunner(Options{
		Config:     cfg,
		Executor:   mock,
		Launcher:   harness,
		Provision:  harness.provision,
		Store:      store,
		Events:     events,
		Recorder:   metrics.NewRecorder(),
		Console:    &console,
		ErrConsole: io.Discard,
		Version:    "test",
	})

	require.NoError(t, runner.Run(context.Background()))

	// The protocol lines, in order.
	out := console.String()
	assert.Contains(t, out, "Benchmarking 1 scenario(s)...")
	assert.Contains(t, out, "\n=== Scenario: "+buildOnlySlug+" ===\n")
	assert.Contains(t, out, "linker=default, cache=incremental, dynamic=default, hotpatch=none")
	assert.Contains(t, out, "[bench] Running clean cargo build in /fake/"+buildOnlySlug)
	assert.Contains(t, out, "[bench] Running second cargo build in /fake/"+buildOnlySlug)
	assert.Regexp(t, `\[bench\] Results for `+buildOnlySlug+` -> clean=0\.\d{3}s, second=0\.\d{3}s, hotpatch=n/a`, out)
	assert.Contains(t, out, "\nAll scenarios completed.\n")

	// Exactly two builds in the provisioned workspace, no dev server.
	require.Len(t, mock.Calls, 2)
	assert.Equal(t, []string{"cargo", "build"}, mock.Calls[0].Argv)
	assert.Equal(t, "/fake/"+buildOnlySlug, mock.Calls[0].Dir)
	assert.Equal(t, 0, harness.launchCount())

	_, cleanups := harness.workspaces["/fake/"+buildOnlySlug].counts()
	assert.Equal(t, 1, cleanups)

	// Run history row.
	runs, err := store.RecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, persistence.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].ScenarioCount)
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, "test", runs[0].HarnessVersion)

	rows, err := store.ResultsForRun(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, buildOnlySlug, rows[0].Slug)
	assert.NotNil(t, rows[0].CleanSeconds)
	assert.NotNil(t, rows[0].SecondSeconds)
	assert.Nil(t, rows[0].HotpatchSeconds)
	assert.Equal(t, persistence.ResultStatusOK, rows[0].Status)

	// Transcript shape.
	recorded, err := eventlog.ReadEvents(events.Path())
	require.NoError(t, err)
	var types []string
	for _, ev := range recorded {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		eventlog.TypeRunStarted,
		eventlog.TypeScenarioStarted,
		eventlog.TypeBuildFinished,
		eventlog.TypeBuildFinished,
		eventlog.TypeScenarioFinished,
		eventlog.TypeRunFinished,
	}, types)

	// Metrics export.
	text := readFile(t, cfg.MetricsFile)
	assert.Contains(t, text, `bench_scenarios_total{status="ok"} 1`)
	assert.Contains(t, text, `bench_build_duration_seconds_count{kind="clean",scenario="`+buildOnlySlug+`"} 1`)
	assert.Contains(t, text, `bench_build_duration_seconds_count{kind="second",scenario="`+buildOnlySlug+`"} 1`)
}

func TestRunHotpatchScenario(t *testing.T) {
	harness := newBenchHarness()
	mock := build.NewMockExecutor()
	mock.Output = ""
	store := openTestStore(t)

	eventDir := t.TempDir()
	events, err := eventlog.NewWriter(eventDir, "test-run")
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	cfg := testConfig(hotpatchSlug)

	var console bytes.Buffer
	runner := NewRunner(Options{
		Config:     cfg,
		Executor:   mock,
		Launcher:   harness,
		Provision:  harness.provision,
		Store:      store,
		Events:     events,
		Recorder:   metrics.NewRecorder(),
		Console:    &console,
		ErrConsole: io.Discard,
	})

	require.NoError(t, runner.Run(context.Background()))

	prepared := scenario.Prepare(scenario.Scenario{Hotpatch: scenario.HotpatchDx})
	out := console.String()
	assert.Contains(t, out, "[bench] Starting dx serve hotpatch session...")
	assert.Contains(t, out, "[bench] Ready marker "+prepared.ReadyMarker+" observed.")
	assert.Contains(t, out, "[bench] Hotpatch payload observed.")
	assert.Regexp(t, `hotpatch=0\.\d{3}s`, out)

	require.Equal(t, 1, harness.launchCount())
	assert.Equal(t, 1, harness.handles[0].killCount())

	ws := harness.workspaces["/fake/"+hotpatchSlug]
	rewrites, cleanups := ws.counts()
	assert.Equal(t, 1, rewrites)
	assert.Equal(t, 1, cleanups)

	runs, err := store.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	rows, err := store.ResultsForRun(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].HotpatchSeconds)
	assert.Greater(t, *rows[0].HotpatchSeconds, 0.0)

	// Server output and the patch timing made it into the transcript.
	recorded, err := eventlog.ReadEvents(events.Path())
	require.NoError(t, err)
	var sawMarker, sawLatency bool
	for _, ev := range recorded {
		if ev.Type == eventlog.TypeServerLine && strings.Contains(ev.Line, prepared.ReadyMarker) {
			sawMarker = true
			assert.Equal(t, hotpatchSlug, ev.Slug)
			assert.Equal(t, "stdout", ev.Stream)
		}
		if ev.Type == eventlog.TypeHotpatchFinished {
			sawLatency = true
			assert.Equal(t, hotpatchSlug, ev.Slug)
			require.NotNil(t, ev.Seconds)
			assert.Greater(t, *ev.Seconds, 0.0)
		}
	}
	assert.True(t, sawMarker, "transcript should contain the ready marker line")
	assert.True(t, sawLatency, "transcript should contain the hotpatch timing")
}

func TestRunAbortsOnBuildFailure(t *testing.T) {
	harness := newBenchHarness()
	mock := build.NewMockExecutor()
	mock.Output = ""
	mock.ExitCode = 101
	store := openTestStore(t)

	cfg := testConfig("rust-lld-no-incremental")

	var console bytes.Buffer
	runner := NewRunner(Options{
		Config:     cfg,
		Executor:   mock,
		Launcher:   harness,
		Provision:  harness.provision,
		Store:      store,
		Console:    &console,
		ErrConsole: io.Discard,
	})

	err := runner.Run(context.Background())
	require.Error(t, err)

	firstSlug := "rust-lld-no-incremental-default-dynamic-no-hotpatch"
	assert.Contains(t, err.Error(), "benchmark failed for "+firstSlug)

	var buildErr *build.Error
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, "clean", buildErr.Label)
	assert.Equal(t, 101, buildErr.ExitCode)

	// First failure aborts: one build attempt, no further scenarios.
	assert.Len(t, mock.Calls, 1)
	assert.NotContains(t, console.String(), "All scenarios completed.")

	runs, err := store.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, persistence.RunStatusFailed, runs[0].Status)
	assert.Equal(t, 6, runs[0].ScenarioCount)
	assert.Equal(t, 1, runs[0].Recorded)
	assert.Equal(t, 0, runs[0].Succeeded)

	rows, err := store.ResultsForRun(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, persistence.ResultStatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].Detail, "exit code 101")
	assert.Nil(t, rows[0].CleanSeconds)
}

func TestRunHotpatchFailureAborts(t *testing.T) {
	defer goleak.VerifyNone(t)

	harness := newBenchHarness()
	status := 3
	harness.dieEarly = &status
	mock := build.NewMockExecutor()
	mock.Output = ""

	cfg := testConfig(hotpatchSlug)
	cfg.MetricsFile = filepath.Join(t.TempDir(), "bench.prom")

	runner := NewRunner(Options{
		Config:     cfg,
		Executor:   mock,
		Launcher:   harness,
		Provision:  harness.provision,
		Recorder:   metrics.NewRecorder(),
		Console:    io.Discard,
		ErrConsole: io.Discard,
	})

	err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "benchmark failed for "+hotpatchSlug)

	var exitErr *hotpatch.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Status)

	// Builds succeeded before the session died.
	assert.Len(t, mock.Calls, 2)

	// Failure metrics are still exported.
	text := readFile(t, cfg.MetricsFile)
	assert.Contains(t, text, `bench_session_failures_total{reason="process_died"} 1`)
	assert.Contains(t, text, `bench_scenarios_total{status="failed"} 1`)
}

func TestRunFullMatrix(t *testing.T) {
	defer goleak.VerifyNone(t)

	harness := newBenchHarness()
	mock := build.NewMockExecutor()
	mock.Output = ""

	var console bytes.Buffer
	runner := NewRunner(Options{
		Config:     testConfig(""),
		Executor:   mock,
		Launcher:   harness,
		Provision:  harness.provision,
		Console:    &console,
		ErrConsole: io.Discard,
	})

	require.NoError(t, runner.Run(context.Background()))

	out := console.String()
	assert.Contains(t, out, "Benchmarking 36 scenario(s)...")
	assert.Equal(t, 36, strings.Count(out, "[bench] Results for "))
	assert.Contains(t, out, "All scenarios completed.")

	// Two builds per scenario, one dev server per hotpatch scenario.
	assert.Len(t, mock.Calls, 72)
	require.Equal(t, 18, harness.launchCount())
	for i, handle := range harness.handles {
		assert.Equalf(t, 1, handle.killCount(), "session %d should be killed exactly once", i)
	}

	// Every workspace is cleaned up again.
	for root, ws := range harness.workspaces {
		_, cleanups := ws.counts()
		assert.Equalf(t, 1, cleanups, "workspace %s not cleaned up", root)
	}
}

func TestRunNoScenariosMatch(t *testing.T) {
	runner := NewRunner(Options{
		Config:     testConfig("nonexistent-slug"),
		Executor:   build.NewMockExecutor(),
		Launcher:   newBenchHarness(),
		Console:    io.Discard,
		ErrConsole: io.Discard,
	})

	err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios match")
}

func TestFilter(t *testing.T) {
	all := scenario.Matrix()

	assert.Len(t, Filter(all, ""), 36)
	assert.Len(t, Filter(all, "dx-hotpatch"), 18)
	assert.Len(t, Filter(all, "sscache"), 12)
	assert.Len(t, Filter(all, buildOnlySlug), 1)
	assert.Empty(t, Filter(all, "zzz"))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
