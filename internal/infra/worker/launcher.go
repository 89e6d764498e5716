// Package worker launches the external registration program, one process per
// phone number, and exposes each run as a typed completion future.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/reg-armada/pkg/common/logger"
)

// DefaultGrace is how long a terminated worker gets between SIGTERM and SIGKILL.
const DefaultGrace = 2 * time.Second

// Spec is everything needed to start one worker.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	// ResultFile is where the worker writes its RegistrationResult, if anywhere.
	ResultFile string

	// Timeout terminates the worker after this long. Zero waits forever.
	Timeout time.Duration
}

// Exit describes how a worker process ended.
type Exit struct {
	// Code is the process exit status, or -1 if it was killed by a signal or
	// never ran.
	Code       int
	Err        error
	TimedOut   bool
	FinishedAt time.Time
}

// Process is a running worker. Done yields exactly one Exit and is then closed.
type Process struct {
	PID       int
	StartedAt time.Time

	done      <-chan Exit
	terminate func()
	once      sync.Once
}

// NewProcess wraps a started process. terminate may be nil.
func NewProcess(pid int, startedAt time.Time, done <-chan Exit, terminate func()) *Process {
	return &Process{PID: pid, StartedAt: startedAt, done: done, terminate: terminate}
}

// Done returns the completion future.
func (p *Process) Done() <-chan Exit { return p.done }

// Terminate stops the worker and its children. Safe to call more than once.
func (p *Process) Terminate() {
	if p.terminate == nil {
		return
	}
	p.once.Do(p.terminate)
}

// Launcher starts worker processes.
type Launcher struct {
	stdout io.Writer
	stderr io.Writer
	grace  time.Duration

	logger *logger.Logger
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithOutput sets where worker stdout and stderr go. Both default to the
// orchestrator's own streams.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(l *Launcher) {
		l.stdout = stdout
		l.stderr = stderr
	}
}

// WithGrace sets the SIGTERM to SIGKILL delay.
func WithGrace(d time.Duration) Option {
	return func(l *Launcher) { l.grace = d }
}

// NewLauncher creates a Launcher.
func NewLauncher(log *logger.Logger, opts ...Option) *Launcher {
	l := &Launcher{
		stdout: os.Stdout,
		stderr: os.Stderr,
		grace:  DefaultGrace,
		logger: log.With("component", "worker_launcher"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch starts spec and returns once the process is running. The process is
// not bound to ctx: cancelling ctx never interrupts a started worker.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (*Process, error) {
	if spec.Command == "" {
		return nil, errors.New("worker command is required")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = l.stdout
	cmd.Stderr = l.stderr
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", spec.Command, err)
	}
	startedAt := time.Now()
	pid := cmd.Process.Pid

	done := make(chan Exit, 1)
	terminated := make(chan struct{})
	var termOnce sync.Once
	terminate := func() {
		termOnce.Do(func() {
			close(terminated)
			terminateProcess(cmd, l.grace)
		})
	}

	waited := make(chan struct{})
	var timedOut atomic.Bool
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		go func() {
			defer timer.Stop()
			select {
			case <-timer.C:
				timedOut.Store(true)
				l.logger.Warn(ctx, "worker timed out, terminating", "pid", pid, "timeout", spec.Timeout)
				terminate()
			case <-waited:
			}
		}()
	}

	go func() {
		err := cmd.Wait()
		finishedAt := time.Now()

		close(waited)

		exit := Exit{Code: exitCode(cmd, err), Err: err, FinishedAt: finishedAt}
		select {
		case <-terminated:
			exit.TimedOut = timedOut.Load()
		default:
		}
		done <- exit
		close(done)
	}()

	l.logger.Debug(ctx, "worker started", "pid", pid, "command", spec.Command)
	return NewProcess(pid, startedAt, done, terminate), nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
