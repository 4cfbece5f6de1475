// Package build runs the external build command and times it.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"buildbench/pkg/logx"
)

// ExecOpts configures command execution.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type ExecOpts struct {
	// Dir is the working directory for command execution. Required.
	Dir string

	// Env contains environment variable overrides as "KEY=VALUE" strings.
	// These are merged with the parent environment. Optional.
	Env []string

	// Stdout receives standard output. Required.
	Stdout io.Writer

	// Stderr receives standard error. Can be same as Stdout for combined output.
	// Required.
	Stderr io.Writer
}

// Executor runs commands and returns results.
type Executor interface {
	// Run executes a command with the given arguments.
	//
	// argv is the command and arguments as a string slice (NOT a shell string).
	// This prevents shell injection vulnerabilities.
	//
	// Returns the exit code and any execution error.
	// Exit code is valid even when err != nil (e.g., command ran but returned non-zero).
	//
	// Context cancellation must terminate the running command and return
	// context.Canceled or context.DeadlineExceeded as appropriate.
	Run(ctx context.Context, argv []string, opts ExecOpts) (exitCode int, err error)

	// Name returns the executor name for logging.
	Name() string
}

// HostExecutor runs commands directly on the host. Benchmarks measure
// the host toolchain, so this is the production executor.
type HostExecutor struct {
	logger *logx.Logger
}

// NewHostExecutor creates a new host executor.
func NewHostExecutor() *HostExecutor {
	return &HostExecutor{
		logger: logx.NewLogger("host-executor"),
	}
}

// Name returns the executor name.
func (h *HostExecutor) Name() string {
	return "host"
}

// Run executes a command on the host.
func (h *HostExecutor) Run(ctx context.Context, argv []string, opts ExecOpts) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("command cannot be empty")
	}

	if opts.Stdout == nil || opts.Stderr == nil {
		return -1, fmt.Errorf("stdout and stderr writers are required")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	// Only set Env if we have overrides - otherwise inherit parent environment.
	// Note: Setting cmd.Env to ANY value (even empty) replaces the entire environment,
	// which would remove PATH and break command lookup.
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	// Set process group for proper cleanup on cancellation
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h.logger.Debug("Executing on host: %s", strings.Join(argv, " "))

	err := cmd.Run()

	// Extract exit code
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			return exitCode, nil // Non-zero exit is not an execution error
		}

		// Check for context cancellation
		if ctx.Err() == context.Canceled {
			return -1, context.Canceled
		}
		if ctx.Err() == context.DeadlineExceeded {
			return -1, context.DeadlineExceeded
		}

		// Other execution error
		return -1, fmt.Errorf("failed to execute command: %w", err)
	}

	return exitCode, nil
}

// MockExecutor is a test executor that simulates command execution without running anything.
// Use this in tests to avoid dependencies on the external toolchain.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type MockExecutor struct {
	// ExitCode is the exit code to return from Run. Default is 0 (success).
	ExitCode int
	// Error is the error to return from Run. Default is nil.
	Error error
	// Output is written to stdout when Run is called.
	Output string
	// Calls records all calls to Run for assertions.
	Calls []MockExecCall
}

// MockExecCall records a single call to the mock executor.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type MockExecCall struct {
	Argv []string
	Dir  string
}

// NewMockExecutor creates a new mock executor that returns success.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		ExitCode: 0,
		Output:   "mock execution successful\n",
	}
}

// Name returns the executor name.
func (m *MockExecutor) Name() string {
	return "mock"
}

// Run simulates command execution without actually running anything.
func (m *MockExecutor) Run(_ context.Context, argv []string, opts ExecOpts) (int, error) {
	// Record the call.
	m.Calls = append(m.Calls, MockExecCall{
		Argv: argv,
		Dir:  opts.Dir,
	})

	// Write output if configured.
	if m.Output != "" && opts.Stdout != nil {
		_, _ = fmt.Fprintf(opts.Stdout, "%s", m.Output)
	}

	return m.ExitCode, m.Error
}
