package hotpatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"buildbench/pkg/logx"
)

// Handle controls one spawned dev-server process. The handle owns the
// output pipes and the exit status; Done is closed once the process has
// exited and its output has been fully delivered to the pipes.
type Handle interface {
	Stdout() io.Reader
	Stderr() io.Reader

	// Kill force-terminates the process. Idempotent; killing an already
	// exited process is not an error.
	Kill() error

	// Done is closed after the process exits and its status is committed.
	Done() <-chan struct{}

	// ExitStatus returns the process exit code. Valid only after Done
	// is closed; -1 means killed by signal or status unavailable.
	ExitStatus() int
}

// Launcher spawns the dev-server process for one workspace.
type Launcher interface {
	Launch(ctx context.Context, dir string, argv []string) (Handle, error)
}

// OSLauncher spawns real processes via os/exec.
type OSLauncher struct {
	logger *logx.Logger
}

func NewOSLauncher() *OSLauncher {
	return &OSLauncher{logger: logx.NewLogger("hotpatch")}
}

// Launch starts argv with dir as working directory and both output
// streams piped. A failure to start is fatal to the scenario.
func (l *OSLauncher) Launch(ctx context.Context, dir string, argv []string) (Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("dev server command cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	// Process group so Kill reaches the dev server's own children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", argv[0], err)
	}
	l.logger.Debug("Spawned dev server pid=%d in %s", cmd.Process.Pid, dir)

	p := &osProcess{
		cmd:    cmd,
		stdout: outR,
		stderr: errR,
		done:   make(chan struct{}),
	}
	go p.reap(outW, errW)
	return p, nil
}

type osProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader

	done    chan struct{}
	status  int
	killMu  sync.Mutex
	killErr error
	killed  bool
}

// reap waits for process exit, commits the status, then closes the
// write ends so the stream readers see EOF after the last buffered
// line. Status is committed before done closes so observers of Done
// always read a settled value.
func (p *osProcess) reap(outW, errW *io.PipeWriter) {
	err := p.cmd.Wait()
	p.status = exitStatus(err)
	close(p.done)
	_ = outW.Close()
	_ = errW.Close()
}

func (p *osProcess) Stdout() io.Reader { return p.stdout }

func (p *osProcess) Stderr() io.Reader { return p.stderr }

func (p *osProcess) Done() <-chan struct{} { return p.done }

func (p *osProcess) ExitStatus() int { return p.status }

func (p *osProcess) Kill() error {
	p.killMu.Lock()
	defer p.killMu.Unlock()
	if p.killed {
		return p.killErr
	}
	p.killed = true

	if p.cmd.Process == nil {
		return nil
	}
	// Negative pid kills the whole process group.
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.killErr = fmt.Errorf("failed to kill dev server: %w", err)
	}
	return p.killErr
}

// exitStatus maps a Wait error to an exit code. -1 covers signal death
// and unclassifiable failures.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
