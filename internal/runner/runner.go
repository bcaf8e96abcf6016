// Package runner executes the statistical engine as a child process under a
// wall-clock timeout and classifies the outcome.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// killGracePeriod is how long Wait may linger after the process group is
// killed before outstanding pipe reads are abandoned.
const killGracePeriod = 5 * time.Second

// InvocationError reports an engine run that started but exited non-zero,
// or could not be started at all. It carries the captured output so the
// failure can be diagnosed without rerunning.
type InvocationError struct {
	ExitCode int
	Stderr   string
	Stdout   string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("engine exited with code %d", e.ExitCode)
}

// Diagnostics returns the combined stderr and stdout captured from the
// failed run.
func (e *InvocationError) Diagnostics() string {
	var b strings.Builder
	if e.Stderr != "" {
		b.WriteString(e.Stderr)
		if !strings.HasSuffix(e.Stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	b.WriteString(e.Stdout)
	return b.String()
}

// TimeoutError reports a run that exceeded its wall-clock ceiling. The
// engine process group has been terminated by the time it is returned. It is
// deliberately distinct from InvocationError.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine run exceeded the %s time limit", e.Limit)
}

// Spec describes one engine invocation.
type Spec struct {
	// Path is the engine executable.
	Path string
	// Args is the marshalled argument vector.
	Args []string
	// Dir is the run's private working directory.
	Dir string
	// Timeout is the wall-clock ceiling for this run.
	Timeout time.Duration
	// LogLine, when set, receives each stdout line as it is produced.
	LogLine func(string)
}

// Output is the captured result of a successful run.
type Output struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes engine processes. Safe for concurrent use; each Run owns
// its own process.
type Runner struct {
	logger *slog.Logger
}

// New creates a Runner.
func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes the engine and blocks until it exits or the timeout fires.
// Standard output and standard error are captured separately. On timeout the
// engine's whole process group is killed so no descendants survive, and a
// TimeoutError is returned; a non-zero exit returns an InvocationError. No
// retries happen here — a failed run is reported upward unchanged.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	// The engine may fork workers; make it a group leader and kill the whole
	// group on cancellation so nothing outlives the timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGracePeriod

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &InvocationError{ExitCode: -1, Stderr: err.Error()}
	}

	r.logger.Debug("starting engine", "path", spec.Path, "dir", spec.Dir, "timeout", spec.Timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &InvocationError{ExitCode: -1, Stderr: fmt.Sprintf("start engine: %v", err)}
	}

	var stdout strings.Builder
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		stdout.WriteString(line)
		stdout.WriteByte('\n')
		if spec.LogLine != nil {
			spec.LogLine(line)
		}
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("engine timed out", "path", spec.Path, "limit", spec.Timeout)
		return nil, &TimeoutError{Limit: spec.Timeout}
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &InvocationError{
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Stdout:   stdout.String(),
		}
	}

	return &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}, nil
}
