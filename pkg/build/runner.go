package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"buildbench/pkg/logx"
)

// Error reports a build command that ran and exited non-zero.
type Error struct {
	Label    string
	ExitCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("build (%s) failed with exit code %d", e.Label, e.ExitCode)
}

// Runner invokes the external build command synchronously and measures
// wall-clock time. The same runner is used for the clean and the
// incremental measurement of a scenario.
type Runner struct {
	executor Executor
	argv     []string
	console  io.Writer
	logger   *logx.Logger
}

// NewRunner creates a build runner for the given command argv.
func NewRunner(executor Executor, argv []string) *Runner {
	return &Runner{
		executor: executor,
		argv:     argv,
		console:  os.Stdout,
		logger:   logx.NewLogger("build"),
	}
}

// WithConsole redirects operator-facing progress output, used by tests.
func (r *Runner) WithConsole(w io.Writer) *Runner {
	r.console = w
	return r
}

// Run executes the build command with the workspace root as working
// directory, streaming its diagnostics straight to the operator, and
// returns the elapsed wall-clock time.
func (r *Runner) Run(ctx context.Context, root, label string) (time.Duration, error) {
	fmt.Fprintf(r.console, "[bench] Running %s %s build in %s\n", label, r.argv[0], root)

	start := time.Now()
	exitCode, err := r.executor.Run(ctx, r.argv, ExecOpts{
		Dir:    root,
		Stdout: r.console,
		Stderr: os.Stderr,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to run build (%s): %w", label, err)
	}
	if exitCode != 0 {
		return 0, &Error{Label: label, ExitCode: exitCode}
	}

	elapsed := time.Since(start)
	r.logger.Debug("Build %s finished in %.3fs (executor=%s)", label, elapsed.Seconds(), r.executor.Name())
	return elapsed, nil
}
