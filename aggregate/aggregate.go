// Package aggregate runs (allocator, benchmark) pairs for repeated trials
// and reduces their attributes. Sweeps tolerate failed pairs.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weiihann/allocbench/bencher"
	"github.com/weiihann/allocbench/builder"
	"github.com/weiihann/allocbench/metrics"
	"github.com/weiihann/allocbench/process"
	"github.com/weiihann/allocbench/registry"
)

// Aggregator drives trials strictly one after another.
type Aggregator struct {
	Runner *process.Runner
	Logger *slog.Logger
	// Trials is the number of runs per pair. Values below 1 mean 1.
	Trials int
	// Average reduces series to means when serialized.
	Average bool
	// Build builds each allocator before its first trial.
	Build bool
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// New returns an aggregator running a single averaged trial per pair.
func New(runner *process.Runner, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		Runner:  runner,
		Logger:  logger,
		Trials:  1,
		Average: true,
	}
}

func (a *Aggregator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}

	return slog.Default()
}

func (a *Aggregator) trials() int {
	if a.Trials < 1 {
		return 1
	}

	return a.Trials
}

// RunSingle runs w against b for the configured number of trials. The
// first failing trial aborts the pair and returns a nil series.
func (a *Aggregator) RunSingle(ctx context.Context, w bencher.Workload, b builder.Builder) (*Series, error) {
	logger := a.logger().With(
		slog.String("allocator", b.Name()),
		slog.String("benchmark", w.Name()),
	)

	lib, err := a.library(ctx, b)
	if err != nil {
		logger.ErrorContext(ctx, "allocator unavailable", slog.String("error", err.Error()))

		return nil, err
	}

	bench := w.Bind(lib, a.Runner)
	series := &Series{
		Target:     b.Name(),
		Workload:   w.Name(),
		Attributes: bench.Attributes(),
		Values:     make(map[string][]float64, len(bench.Attributes())),
		Average:    a.Average,
	}

	n := a.trials()
	for i := range n {
		logger.InfoContext(ctx, "running trial", slog.Int("trial", i+1), slog.Int("of", n))

		start := time.Now()
		err := bench.Run(ctx)
		a.Metrics.ObserveTrial(b.Name(), w.Name(), time.Since(start), err)

		if err != nil {
			attrs := []any{slog.Int("trial", i+1), slog.String("error", err.Error())}
			if rec := bench.Record(); rec != nil {
				attrs = append(attrs,
					slog.Int("exit_code", rec.ExitCode),
					slog.String("stderr", strings.TrimSpace(rec.Stderr)),
				)
			}
			logger.ErrorContext(ctx, "trial failed", attrs...)

			return nil, fmt.Errorf("%s with %s: trial %d: %w", w.Name(), b.Name(), i+1, err)
		}

		for _, attr := range series.Attributes {
			v, err := bench.Attribute(attr)
			if err != nil {
				return nil, fmt.Errorf("%s with %s: trial %d: %w", w.Name(), b.Name(), i+1, err)
			}
			series.Values[attr] = append(series.Values[attr], v)
		}
	}

	for _, attr := range series.Attributes {
		m, err := series.Mean(attr)
		if err == nil {
			a.Metrics.SetAttribute(b.Name(), w.Name(), attr, m)
		}
	}

	logger.InfoContext(ctx, "pair finished", slog.Int("trials", n))

	return series, nil
}

// library resolves the artifact to preload, building it first when
// configured. A builder without an artifact preloads nothing.
func (a *Aggregator) library(ctx context.Context, b builder.Builder) (string, error) {
	if !a.Build {
		if err := builder.Verify(b); err != nil {
			return "", err
		}

		return b.Library(), nil
	}

	lib, err := b.Build(ctx)
	if err == nil {
		err = builder.Verify(b)
	}
	a.Metrics.ObserveBuild(b.Name(), err)

	if err != nil {
		return "", fmt.Errorf("build %s: %w", b.Name(), err)
	}

	return lib, nil
}

// RunWorkload runs the named benchmark against every registered
// allocator.
func (a *Aggregator) RunWorkload(ctx context.Context, reg *registry.Registry, name string) (Sweep, error) {
	w, err := reg.Workloads.Get(name)
	if err != nil {
		return nil, err
	}

	sweep := make(Sweep, reg.Builders.Len())
	for _, target := range reg.Builders.Names() {
		if ctx.Err() != nil {
			break
		}

		b, _ := reg.Builders.Get(target)
		sweep[target], _ = a.RunSingle(ctx, w, b)
	}

	return sweep, ctx.Err()
}

// RunBuilder runs every registered benchmark against the named
// allocator.
func (a *Aggregator) RunBuilder(ctx context.Context, reg *registry.Registry, name string) (Sweep, error) {
	b, err := reg.Builders.Get(name)
	if err != nil {
		return nil, err
	}

	sweep := make(Sweep, reg.Workloads.Len())
	for _, workload := range reg.Workloads.Names() {
		if ctx.Err() != nil {
			break
		}

		w, _ := reg.Workloads.Get(workload)
		sweep[workload], _ = a.RunSingle(ctx, w, b)
	}

	return sweep, ctx.Err()
}

// RunAll runs the full cross product, keyed by benchmark then allocator.
func (a *Aggregator) RunAll(ctx context.Context, reg *registry.Registry) (map[string]Sweep, error) {
	all := make(map[string]Sweep, reg.Workloads.Len())
	for _, workload := range reg.Workloads.Names() {
		if ctx.Err() != nil {
			break
		}

		sweep, err := a.RunWorkload(ctx, reg, workload)
		all[workload] = sweep
		if err != nil {
			return all, err
		}
	}

	return all, ctx.Err()
}
