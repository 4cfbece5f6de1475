// Package hotpatch implements the hot-patch timing session: it spawns
// the dev server, merges its two output streams into one event feed,
// synchronizes on the scenario's ready marker, rewrites the payload
// source, and measures the latency until the patched value shows up in
// the output.
package hotpatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"buildbench/pkg/logx"
	"buildbench/pkg/scenario"
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultReadyTimeout = 180 * time.Second
	DefaultPatchTimeout = 180 * time.Second
	DefaultKillGrace    = 5 * time.Second
)

// Patchable is the slice of workspace behavior a session needs: the
// directory the dev server runs in and the one mutable source file.
type Patchable interface {
	Root() string
	RewriteSource(content string) error
}

// Options configures a Monitor. Zero fields take the package defaults;
// Argv is required.
type Options struct {
	// Argv is the dev-server command, e.g. dx serve with hot-patching
	// enabled. Required.
	Argv []string

	// PollInterval bounds each channel receive so the control loop can
	// observe its deadlines without a dedicated timer goroutine.
	PollInterval time.Duration

	// ReadyTimeout bounds the wait for the ready marker, measured from
	// session start.
	ReadyTimeout time.Duration

	// PatchTimeout bounds the wait for the confirmation line, measured
	// from the source mutation.
	PatchTimeout time.Duration

	// KillGrace bounds how long shutdown waits for the process to die
	// after a kill, and how long the final event drain may take.
	KillGrace time.Duration

	// Console and ErrConsole receive the echoed dev-server output and
	// the session's progress lines. Default to the real stdio.
	Console    io.Writer
	ErrConsole io.Writer

	// Observer, when set, sees every stream event the control loop
	// consumes. Used for the run transcript.
	Observer func(StreamEvent)
}

// Monitor runs hot-patch sessions. One monitor is reused across all
// scenarios of a run; each Run call drives an independent session.
type Monitor struct {
	launcher Launcher
	opts     Options
	logger   *logx.Logger
}

func NewMonitor(launcher Launcher, opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.PatchTimeout <= 0 {
		opts.PatchTimeout = DefaultPatchTimeout
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.ErrConsole == nil {
		opts.ErrConsole = os.Stderr
	}
	return &Monitor{
		launcher: launcher,
		opts:     opts,
		logger:   logx.NewLogger("hotpatch"),
	}
}

// session is the per-run state machine.
type session struct {
	monitor  *Monitor
	ws       Patchable
	prepared scenario.Prepared

	handle Handle
	events <-chan StreamEvent

	state         State
	expected      string
	baseline      time.Time
	readyDeadline time.Time
	patchDeadline time.Time
	lastClosed    StreamTag
	latency       time.Duration
}

// Run executes the full ready -> mutate -> confirm protocol against a
// provisioned workspace and returns the measured hot-patch latency.
// Every failure is fatal for the scenario; the child never outlives the
// call.
func (m *Monitor) Run(ctx context.Context, ws Patchable, prepared scenario.Prepared) (time.Duration, error) {
	fmt.Fprintf(m.opts.Console, "[bench] Starting %s hotpatch session...\n", commandName(m.opts.Argv))

	s := &session{
		monitor:  m,
		ws:       ws,
		prepared: prepared,
		state:    StateSpawning,
	}

	handle, err := m.launcher.Launch(ctx, ws.Root(), m.opts.Argv)
	if err != nil {
		return 0, err
	}
	s.handle = handle
	s.events = startReaders(handle)

	if err := s.transition(StateWaitReady); err != nil {
		s.shutdown()
		return 0, err
	}
	s.readyDeadline = time.Now().Add(m.opts.ReadyTimeout)

	return s.run(ctx)
}

func (s *session) run(ctx context.Context) (time.Duration, error) {
	ticker := time.NewTicker(s.monitor.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				// Both readers are gone; no more output can arrive.
				return 0, s.failStreamsClosed()
			}
			s.observe(ev)

			switch ev.Kind {
			case EventLine:
				s.echo(ev)
				done, err := s.handleLine(ev)
				if err != nil {
					s.shutdown()
					return 0, err
				}
				if done {
					s.shutdown()
					return s.latency, nil
				}
			case EventClosed:
				s.lastClosed = ev.Tag
				if err := s.handleClosed(ev); err != nil {
					s.shutdown()
					return 0, err
				}
			}

		case <-ticker.C:
			if err := s.checkDeadlines(); err != nil {
				s.shutdown()
				return 0, err
			}

		case <-ctx.Done():
			s.shutdown()
			return 0, ctx.Err()
		}
	}
}

// handleLine consumes one output line according to the current phase.
// Lines that match nothing are echo-only. Returns done once the
// confirmation line has been observed.
func (s *session) handleLine(ev StreamEvent) (bool, error) {
	switch s.state {
	case StateWaitReady:
		if !strings.Contains(ev.Line, s.prepared.ReadyMarker) {
			return false, nil
		}
		fmt.Fprintf(s.monitor.opts.Console, "[bench] Ready marker %s observed.\n", s.prepared.ReadyMarker)
		if err := s.transition(StateMutate); err != nil {
			return false, err
		}
		if err := s.mutate(); err != nil {
			return false, err
		}
		if err := s.transition(StateWaitPatch); err != nil {
			return false, err
		}
		s.patchDeadline = time.Now().Add(s.monitor.opts.PatchTimeout)

	case StateWaitPatch:
		if !strings.Contains(ev.Line, s.expected) {
			return false, nil
		}
		fmt.Fprintf(s.monitor.opts.Console, "[bench] Hotpatch payload observed.\n")
		if err := s.transition(StateDone); err != nil {
			return false, err
		}
		s.latency = time.Since(s.baseline)
		return true, nil
	}
	return false, nil
}

// mutate regenerates the source with the same marker and the next
// payload value, rewrites only the source file, and records the latency
// baseline. The dev server's own file watcher picks the change up; the
// session never touches the process.
func (s *session) mutate() error {
	next := scenario.NextPayloadValue(s.prepared.PayloadValue)
	if err := s.ws.RewriteSource(scenario.RenderSource(s.prepared.ReadyMarker, next)); err != nil {
		return err
	}
	fmt.Fprintf(s.monitor.opts.Console, "[bench] Hotpatch triggered, waiting for PAYLOAD_RANDOM_VALUE=%d.\n", next)
	s.expected = scenario.ConfirmLine(next)
	s.baseline = time.Now()
	return nil
}

// handleClosed reacts to one stream ending. If the process has already
// exited this is a premature death carrying a real status; otherwise
// the other stream may still be live and the session continues.
func (s *session) handleClosed(ev StreamEvent) error {
	select {
	case <-s.handle.Done():
	default:
		return nil
	}
	if err := s.transition(StateProcessDied); err != nil {
		return err
	}
	return &ExitError{Stream: ev.Tag, Status: s.handle.ExitStatus()}
}

// failStreamsClosed classifies the end of both streams: a settled exit
// status means the process died early; otherwise kill it and give the
// reaper one grace period to produce a status before declaring the
// channel lost.
func (s *session) failStreamsClosed() error {
	select {
	case <-s.handle.Done():
		if err := s.transition(StateProcessDied); err != nil {
			return err
		}
		return &ExitError{Stream: s.lastClosed, Status: s.handle.ExitStatus()}
	default:
	}

	if err := s.handle.Kill(); err != nil {
		s.monitor.logger.Warn("%v", err)
	}
	select {
	case <-s.handle.Done():
		if err := s.transition(StateProcessDied); err != nil {
			return err
		}
		return &ExitError{Stream: s.lastClosed, Status: s.handle.ExitStatus()}
	case <-time.After(s.monitor.opts.KillGrace):
		if err := s.transition(StateChannelLost); err != nil {
			return err
		}
		return ErrChannelLost
	}
}

// checkDeadlines enforces the phase deadline that applies to the
// current state. The poll tick makes this advisory check responsive
// without a dedicated timer per phase.
func (s *session) checkDeadlines() error {
	now := time.Now()
	switch s.state {
	case StateWaitReady:
		if now.After(s.readyDeadline) {
			if err := s.transition(StateTimeout); err != nil {
				return err
			}
			return &TimeoutError{Phase: StateWaitReady, Want: s.prepared.ReadyMarker, Waited: s.monitor.opts.ReadyTimeout}
		}
	case StateWaitPatch:
		if now.After(s.patchDeadline) {
			if err := s.transition(StateTimeout); err != nil {
				return err
			}
			return &TimeoutError{Phase: StateWaitPatch, Want: s.expected, Waited: s.monitor.opts.PatchTimeout}
		}
	}
	return nil
}

// shutdown terminates the child if it is still running, waits for the
// reaper within the kill grace period, and drains the event channel so
// both readers finish before the session returns.
func (s *session) shutdown() {
	select {
	case <-s.handle.Done():
	default:
		if err := s.handle.Kill(); err != nil {
			s.monitor.logger.Warn("%v", err)
		}
	}

	select {
	case <-s.handle.Done():
	case <-time.After(s.monitor.opts.KillGrace):
		s.monitor.logger.Error("Dev server did not exit within %s after kill", s.monitor.opts.KillGrace)
	}

	s.drain()
}

// drain consumes leftover events until the readers close the channel,
// bounded by the kill grace so a wedged pipe cannot hang the monitor.
// Drained lines are not echoed; the protocol has already concluded.
func (s *session) drain() {
	deadline := time.After(s.monitor.opts.KillGrace)
	for {
		select {
		case _, ok := <-s.events:
			if !ok {
				return
			}
		case <-deadline:
			s.monitor.logger.Warn("Stream readers did not finish while draining")
			return
		}
	}
}

// commandName is the command-and-subcommand part of argv, everything
// before the first flag, for operator messages.
func commandName(argv []string) string {
	n := len(argv)
	for i, arg := range argv {
		if strings.HasPrefix(arg, "-") {
			n = i
			break
		}
	}
	return strings.Join(argv[:n], " ")
}

func (s *session) observe(ev StreamEvent) {
	if s.monitor.opts.Observer != nil {
		s.monitor.opts.Observer(ev)
	}
}

func (s *session) echo(ev StreamEvent) {
	if ev.Tag == StreamStderr {
		fmt.Fprintf(s.monitor.opts.ErrConsole, "[dx][stderr] %s\n", ev.Line)
		return
	}
	fmt.Fprintf(s.monitor.opts.Console, "[dx] %s\n", ev.Line)
}
