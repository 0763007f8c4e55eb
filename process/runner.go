// Package process runs external programs under a time-accounting wrapper
// and reports their exit status, output and resource usage.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// PreloadEnv is the dynamic-linker variable used to inject a library.
const PreloadEnv = "LD_PRELOAD"

// usageFormat asks GNU time for "page faults, elapsed seconds, peak KiB".
const usageFormat = "%R %e %M"

// waitDelay bounds how long output is drained after the process group is
// killed.
const waitDelay = 2 * time.Second

// DefaultTimeCommand resolves GNU time through env so the shell builtin is
// never picked up.
var DefaultTimeCommand = []string{"env", "time"}

// Command describes a single child process invocation.
type Command struct {
	Path    string
	Args    []string
	Env     map[string]string
	Stdin   []byte
	Dir     string
	Preload string
}

// Output is what a finished process left behind.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Usage    Usage
}

// Runner launches commands wrapped by a time-accounting program.
type Runner struct {
	// TimeCommand is the wrapper prefix. It must accept GNU time's
	// -f FORMAT and -o FILE flags.
	TimeCommand []string
	// Isolated drops the inherited environment, keeping only the
	// command's explicit overrides.
	Isolated bool
	Logger   *slog.Logger
}

// NewRunner creates a Runner using the default time wrapper.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		TimeCommand: DefaultTimeCommand,
		Logger:      logger,
	}
}

// Run executes c to completion and returns its output and usage.
// A non-zero exit code is reported in Output, not as an error. Failing to
// launch the wrapper or to read its usage record is an error; in the latter
// case the exit code and captured output are still returned.
func (r *Runner) Run(ctx context.Context, c Command) (*Output, error) {
	usageFile, err := newUsageFile()
	if err != nil {
		return nil, err
	}
	defer os.Remove(usageFile)

	cmd := r.command(ctx, c, usageFile)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger().DebugContext(ctx, "running command",
		slog.String("path", c.Path),
		slog.Any("args", c.Args),
		slog.String("preload", c.Preload),
	)

	exitCode, err := exitStatus(cmd.Run())
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", c.Path, err)
	}

	out := &Output{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	out.Usage, err = ReadUsage(usageFile)
	if err != nil {
		return out, fmt.Errorf("run %s: %w", c.Path, err)
	}

	return out, nil
}

func (r *Runner) command(ctx context.Context, c Command, usageFile string) *exec.Cmd {
	wrapper := r.TimeCommand
	if len(wrapper) == 0 {
		wrapper = DefaultTimeCommand
	}

	args := make([]string, 0, len(wrapper)+len(c.Args)+5)
	args = append(args, wrapper[1:]...)
	args = append(args, "-f", usageFormat, "-o", usageFile, c.Path)
	args = append(args, c.Args...)

	cmd := exec.CommandContext(ctx, wrapper[0], args...)
	cmd.Dir = c.Dir
	cmd.Env = r.environ(c)

	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	// The wrapper and the workload share a process group so cancellation
	// reaches the workload too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	return cmd
}

// environ merges the inherited environment with the command overrides.
// exec.Cmd keeps the last value of duplicated keys, so overrides win.
func (r *Runner) environ(c Command) []string {
	var env []string
	if !r.Isolated {
		env = os.Environ()
	}

	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}

	if c.Preload != "" {
		env = append(env, PreloadEnv+"="+c.Preload)
	}

	return env
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}

	return r.Logger
}

func newUsageFile() (string, error) {
	f, err := os.CreateTemp("", "allocbench-usage-*.txt")
	if err != nil {
		return "", fmt.Errorf("create usage file: %w", err)
	}

	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)

		return "", fmt.Errorf("close usage file: %w", err)
	}

	return name, nil
}

// exitStatus turns the result of Cmd.Run/Wait into an exit code. Only
// errors other than a plain non-zero exit are returned.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, err
}
