package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Process is a command started in the background, typically a server a
// benchmark client talks to. It runs in its own process group so the time
// wrapper and everything it spawned can be signalled together.
type Process struct {
	path      string
	usageFile string
	logger    *slog.Logger

	pid     int
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	done    chan struct{}
	waitErr error
}

// Start launches c without waiting for it.
func (r *Runner) Start(ctx context.Context, c Command) (*Process, error) {
	usageFile, err := newUsageFile()
	if err != nil {
		return nil, err
	}

	p := &Process{
		path:      c.Path,
		usageFile: usageFile,
		logger:    r.logger().With(slog.String("server", c.Path)),
		done:      make(chan struct{}),
	}

	cmd := r.command(ctx, c, usageFile)
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		os.Remove(usageFile)

		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}

	p.pid = cmd.Process.Pid

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	p.logger.InfoContext(ctx, "server started", slog.Int("pid", p.pid))

	return p, nil
}

// Pid returns the process id of the wrapper, which is also the group id.
func (p *Process) Pid() int {
	return p.pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Signal sends sig to the whole process group.
func (p *Process) Signal(sig syscall.Signal) error {
	if p.Exited() {
		return nil
	}

	err := unix.Kill(-p.pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}

	return err
}

// Wait blocks until the process exits or timeout elapses. It reports
// whether the process exited.
func (p *Process) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// Kill force-terminates the process group and waits for it to be reaped.
// If the group cannot be signalled the process is left running.
func (p *Process) Kill() error {
	if err := p.Signal(unix.SIGKILL); err != nil {
		return err
	}
	<-p.done

	return nil
}

// Finish collects the output and usage of an exited process and removes
// its usage record. It must only be called after Done is closed.
func (p *Process) Finish() (*Output, error) {
	if !p.Exited() {
		return nil, fmt.Errorf("finish %s: process still running", p.path)
	}
	defer os.Remove(p.usageFile)

	exitCode, err := exitStatus(p.waitErr)
	if err != nil {
		return nil, fmt.Errorf("wait %s: %w", p.path, err)
	}

	out := &Output{
		ExitCode: exitCode,
		Stdout:   p.stdout.String(),
		Stderr:   p.stderr.String(),
	}

	out.Usage, err = ReadUsage(p.usageFile)
	if err != nil {
		return out, fmt.Errorf("server %s: %w", p.path, err)
	}

	return out, nil
}

// Discard kills the process if needed, drains its output and removes the
// usage record. It returns the drained stderr for diagnostics, or an empty
// string when the process could not be stopped.
func (p *Process) Discard() string {
	if err := p.Kill(); err != nil {
		p.logger.Warn("kill server", slog.String("error", err.Error()))

		return ""
	}
	os.Remove(p.usageFile)

	return p.stderr.String()
}

// Alive reports whether a process with the given pid still exists.
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}
