// Package bencher wraps external benchmark programs behind a uniform
// contract: run once, then expose a fixed list of named numeric attributes.
package bencher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weiihann/allocbench/process"
)

// Attributes every workload produces from the time wrapper.
const (
	MemPeak     = "mem_peak"
	TimeElapsed = "time_elapsed"
	PageFault   = "page_fault"
)

// Attributes some workloads add.
const (
	OpPerSec    = "op_per_sec"
	ReqPerSec   = "req_per_sec"
	ThreadCount = "thread_count"
	RTime       = "rtime"
)

var (
	// ErrNoResult is returned when attributes are read without a
	// successful run.
	ErrNoResult = errors.New("no successful run")
	// ErrMissingAttribute means a run finished but did not produce a
	// declared attribute.
	ErrMissingAttribute = errors.New("attribute not produced")
	// ErrUnknownAttribute means the name is not in the attribute list.
	ErrUnknownAttribute = errors.New("unknown attribute")
)

// ExitError reports a benchmark that ran but exited with a non-zero code.
type ExitError struct {
	Workload string
	Code     int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s",
		e.Workload, e.Code, strings.TrimSpace(e.Stderr))
}

// Record is the outcome of one run. Values is nil for a failed run.
type Record struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Usage    process.Usage
	Values   map[string]float64
}

// Bencher is a workload bound to a library, ready to run.
type Bencher interface {
	Name() string
	Attributes() []string
	// Run executes the workload once, replacing any previous result.
	Run(ctx context.Context) error
	// Attribute returns a value from the most recent successful run.
	Attribute(name string) (float64, error)
	// Record returns the most recent attempt, successful or not.
	Record() *Record
}

// Workload is a catalogue entry that can be bound to a library.
type Workload interface {
	Name() string
	Attributes() []string
	Bind(lib string, runner *process.Runner) Bencher
}

// ParseFunc extracts workload-specific values from a finished client run
// into values. The base attributes are already present and may be
// overridden.
type ParseFunc func(out *process.Output, values map[string]float64) error

// Spec describes one workload variant as data.
type Spec struct {
	ID    string
	Exec  string
	Args  []string
	Env   map[string]string
	Stdin []byte
	Dir   string
	// Extra lists attributes beyond mem_peak, time_elapsed and page_fault.
	Extra []string
	Parse ParseFunc
	// Server, if set, is started before and stopped after the client.
	Server *Server
	// Version prints the version of Exec when it is a third-party
	// program rather than part of the benchmark suite.
	Version []string
}

// Tool is an external program a workload launches.
type Tool struct {
	// Launch is the program and arguments it is started with.
	Launch []string
	// Version prints the program's version.
	Version []string
}

// Tools lists the versioned programs the workload launches, server first.
func (s *Spec) Tools() []Tool {
	var tools []Tool

	if s.Server != nil && len(s.Server.Version) > 0 {
		tools = append(tools, Tool{
			Launch:  append([]string{s.Server.Exec}, s.Server.Args...),
			Version: s.Server.Version,
		})
	}

	if len(s.Version) > 0 {
		tools = append(tools, Tool{
			Launch:  append([]string{s.Exec}, s.Args...),
			Version: s.Version,
		})
	}

	return tools
}

var _ Workload = (*Spec)(nil)

// Name returns the catalogue name.
func (s *Spec) Name() string {
	return s.ID
}

// Attributes returns the ordered attribute list.
func (s *Spec) Attributes() []string {
	attrs := make([]string, 0, 3+len(s.Extra))
	attrs = append(attrs, MemPeak, TimeElapsed, PageFault)

	return append(attrs, s.Extra...)
}

// Bind returns a Case that preloads lib. An empty lib runs the workload
// against the system allocator.
func (s *Spec) Bind(lib string, runner *process.Runner) Bencher {
	logger := runner.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Case{
		spec:   s,
		lib:    lib,
		runner: runner,
		logger: logger.With(slog.String("workload", s.ID)),
	}
}

// Case is a Spec bound to one library.
type Case struct {
	spec   *Spec
	lib    string
	runner *process.Runner
	logger *slog.Logger

	last *Record
}

// Name returns the workload name.
func (c *Case) Name() string {
	return c.spec.ID
}

// Attributes returns the workload's attribute list.
func (c *Case) Attributes() []string {
	return c.spec.Attributes()
}

// Record returns the last attempt, or nil before the first run.
func (c *Case) Record() *Record {
	return c.last
}

// Attribute returns the named value of the last successful run.
func (c *Case) Attribute(name string) (float64, error) {
	if c.last == nil || c.last.Values == nil {
		return 0, fmt.Errorf("%s: %w", c.spec.ID, ErrNoResult)
	}

	v, ok := c.last.Values[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w: %s", c.spec.ID, ErrUnknownAttribute, name)
	}

	return v, nil
}

// Run executes the workload once.
func (c *Case) Run(ctx context.Context) error {
	c.last = nil

	var (
		client *process.Output
		usage  process.Usage
		err    error
	)

	if c.spec.Server != nil {
		client, usage, err = c.runWithServer(ctx)
	} else {
		client, err = c.runner.Run(ctx, c.clientCommand())
		if client != nil {
			usage = client.Usage
		}
	}

	// A run with an unreadable usage record still keeps its output.
	if client != nil {
		c.last = &Record{
			Stdout:   client.Stdout,
			Stderr:   client.Stderr,
			ExitCode: client.ExitCode,
			Usage:    usage,
		}
	}

	if err != nil {
		return fmt.Errorf("%s: %w", c.spec.ID, err)
	}

	rec := c.last

	if client.ExitCode != 0 {
		return &ExitError{
			Workload: c.spec.ID,
			Code:     client.ExitCode,
			Stderr:   client.Stderr,
		}
	}

	values := map[string]float64{
		MemPeak:     float64(usage.PeakRSS),
		TimeElapsed: usage.Elapsed,
		PageFault:   float64(usage.PageFaults),
	}

	if c.spec.Parse != nil {
		if err := c.spec.Parse(client, values); err != nil {
			return fmt.Errorf("%s: parse output: %w", c.spec.ID, err)
		}
	}

	for _, name := range c.spec.Attributes() {
		if _, ok := values[name]; !ok {
			return fmt.Errorf("%s: %w: %s", c.spec.ID, ErrMissingAttribute, name)
		}
	}

	rec.Values = values

	return nil
}

func (c *Case) clientCommand() process.Command {
	return process.Command{
		Path:    c.spec.Exec,
		Args:    c.spec.Args,
		Env:     c.spec.Env,
		Stdin:   c.spec.Stdin,
		Dir:     c.spec.Dir,
		Preload: c.lib,
	}
}
