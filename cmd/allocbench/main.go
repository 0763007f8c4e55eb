// Package main provides the CLI entry point for allocbench, a benchmark
// harness comparing memory allocators on a fixed set of workloads.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/weiihann/allocbench/aggregate"
	"github.com/weiihann/allocbench/builder"
	"github.com/weiihann/allocbench/config"
	"github.com/weiihann/allocbench/metrics"
	"github.com/weiihann/allocbench/process"
	"github.com/weiihann/allocbench/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "allocbench:", err)
		stop()
		os.Exit(1)
	}
}

// app is the state shared by all subcommands, resolved once flags are
// parsed.
type app struct {
	configFile string
	logLevel   string
	format     string

	logger    *slog.Logger
	cfg       *config.Config
	toolchain builder.Toolchain
	reg       *registry.Registry
	runner    *process.Runner
	metrics   *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "allocbench",
		Short: "Memory allocator benchmarking harness",
		Long: `Allocbench builds allocator libraries from source and runs a fixed
catalogue of benchmark programs against each of them through LD_PRELOAD,
measuring wall time, peak memory, page faults and workload throughput.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "",
		"Config file (default: ./"+config.DefaultFile+" if present)")
	flags.StringVar(&a.logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	flags.StringVar(&a.format, "format", formatMarkdown,
		"Result format: markdown, json, benchfmt")
	flags.Int("trials", 1, "Number of trials per allocator and benchmark")
	flags.Bool("average", true, "Reduce trials to their mean in JSON output")
	flags.Bool("build", false, "Build allocators before benchmarking them")
	flags.Int("parallel", builder.DefaultParallel(), "Build parallelism")
	flags.String("source-root", "", "Directory holding allocator checkouts")
	flags.String("bench-dir", "", "Directory holding benchmark binaries")
	flags.String("store", "", "SQLite history database (empty disables history)")
	flags.String("metrics-file", "", "Write Prometheus metrics to this file")

	root.AddCommand(
		newListAllocatorsCmd(a),
		newListBenchesCmd(a),
		newBuildCmd(a),
		newBuildAllCmd(a),
		newCleanCmd(a),
		newCleanAllCmd(a),
		newRunCmd(a),
		newRunBenchCmd(a),
		newRunAllocatorCmd(a),
		newRunAllCmd(a),
		newMatrixCmd(a),
		newHistoryCmd(a),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	a.logger = newLogger(os.Stderr, level)
	slog.SetDefault(a.logger)

	cfg, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.toolchain = builder.Toolchain{Logger: a.logger}

	a.reg = registry.Default(cfg.Paths(a.toolchain))
	if err := a.reg.Extend(cfg.Paths(a.toolchain), cfg.Builders); err != nil {
		return fmt.Errorf("config builders: %w", err)
	}

	a.runner = process.NewRunner(a.logger)
	a.runner.TimeCommand = cfg.TimeCommand
	a.runner.Isolated = cfg.IsolatedEnv

	if cfg.MetricsFile != "" {
		a.metrics = metrics.New()
	}

	a.logger.DebugContext(cmd.Context(), "configuration loaded",
		slog.String("source_root", cfg.SourceRoot),
		slog.String("bench_dir", cfg.BenchDir),
		slog.Int("trials", cfg.Trials),
		slog.Int("allocators", a.reg.Builders.Len()),
		slog.Int("benchmarks", a.reg.Workloads.Len()),
	)

	return nil
}

// newLogger logs text to terminals and JSON everywhere else.
func newLogger(w *os.File, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}

	return slog.New(slog.NewJSONHandler(w, opts))
}

func (a *app) aggregator() *aggregate.Aggregator {
	agg := aggregate.New(a.runner, a.logger)
	agg.Trials = a.cfg.Trials
	agg.Average = a.cfg.Average
	agg.Build = a.cfg.Build
	agg.Metrics = a.metrics

	return agg
}
