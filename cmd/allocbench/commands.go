package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/allocbench/aggregate"
	"github.com/weiihann/allocbench/builder"
	"github.com/weiihann/allocbench/report"
	"github.com/weiihann/allocbench/store"
)

const (
	formatMarkdown = "markdown"
	formatJSON     = "json"
	formatBenchfmt = "benchfmt"
)

func newListAllocatorsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-allocators",
		Short: "List registered allocators and their library paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			a.reg.Builders.Each(func(name string, b builder.Builder) {
				lib := b.Library()
				if lib == "" {
					lib = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\n", name, lib)
			})

			return tw.Flush()
		},
	}
}

func newListBenchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-benches",
		Short: "List registered benchmarks and the attributes they report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range a.reg.Workloads.Names() {
				w, _ := a.reg.Workloads.Get(name)
				fmt.Fprintf(tw, "%s\t%s\n", name, strings.Join(w.Attributes(), ", "))
			}

			return tw.Flush()
		},
	}
}

func newBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build <allocator>...",
		Short: "Build the named allocators",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.buildEach(cmd.Context(), args)
		},
	}
}

func newBuildAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build-all",
		Short: "Build every registered allocator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.buildEach(cmd.Context(), a.reg.Builders.Names())
		},
	}
}

// buildEach builds every name, continuing past failures.
func (a *app) buildEach(ctx context.Context, names []string) error {
	var errs []error

	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b, err := a.reg.Builders.Get(name)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		lib, err := b.Build(ctx)
		if err == nil {
			err = builder.Verify(b)
		}
		a.metrics.ObserveBuild(name, err)

		if err != nil {
			a.logger.ErrorContext(ctx, "build failed",
				slog.String("allocator", name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("build %s: %w", name, err))

			continue
		}

		a.logger.InfoContext(ctx, "allocator ready",
			slog.String("allocator", name),
			slog.String("library", lib),
		)
	}

	if err := a.metrics.WriteFile(a.cfg.MetricsFile); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean <allocator>...",
		Short: "Remove build products of the named allocators",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cleanEach(cmd.Context(), args)
		},
	}
}

func newCleanAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-all",
		Short: "Remove build products of every registered allocator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cleanEach(cmd.Context(), a.reg.Builders.Names())
		},
	}
}

func (a *app) cleanEach(ctx context.Context, names []string) error {
	var errs []error

	for _, name := range names {
		b, err := a.reg.Builders.Get(name)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if err := b.Clean(ctx); err != nil {
			errs = append(errs, err)

			continue
		}

		a.logger.InfoContext(ctx, "cleaned", slog.String("allocator", name))
	}

	return errors.Join(errs...)
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <allocator> <benchmark>",
		Short: "Benchmark one allocator on one benchmark",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			b, err := a.reg.Builders.Get(args[0])
			if err != nil {
				return err
			}

			w, err := a.reg.Workloads.Get(args[1])
			if err != nil {
				return err
			}

			series, runErr := a.aggregator().RunSingle(ctx, w, b)
			results := map[string]aggregate.Sweep{w.Name(): {b.Name(): series}}

			if err := a.finish(ctx, cmd.OutOrStdout(), results); err != nil {
				return err
			}

			return runErr
		},
	}
}

func newRunBenchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run-bench <benchmark>",
		Short: "Run one benchmark against every allocator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sweep, err := a.aggregator().RunWorkload(ctx, a.reg, args[0])
			if sweep == nil {
				return err
			}

			return errors.Join(err, a.finish(ctx, cmd.OutOrStdout(),
				map[string]aggregate.Sweep{args[0]: sweep}))
		},
	}
}

func newRunAllocatorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run-allocator <allocator>",
		Short: "Run every benchmark against one allocator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sweep, err := a.aggregator().RunBuilder(ctx, a.reg, args[0])
			if sweep == nil {
				return err
			}

			return errors.Join(err, a.finish(ctx, cmd.OutOrStdout(), byWorkload(args[0], sweep)))
		},
	}
}

func newRunAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run-all",
		Short: "Run every benchmark against every allocator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			results, err := a.aggregator().RunAll(ctx, a.reg)

			return errors.Join(err, a.finish(ctx, cmd.OutOrStdout(), results))
		},
	}
}

// byWorkload turns a per-allocator sweep keyed by benchmark into the
// benchmark-major layout used everywhere else.
func byWorkload(allocator string, sweep aggregate.Sweep) map[string]aggregate.Sweep {
	results := make(map[string]aggregate.Sweep, len(sweep))
	for workload, s := range sweep {
		results[workload] = aggregate.Sweep{allocator: s}
	}

	return results
}

// finish reports results, records them in the history store and writes
// metrics.
func (a *app) finish(ctx context.Context, out io.Writer, results map[string]aggregate.Sweep) error {
	if len(results) == 0 {
		return nil
	}

	// Save even when interrupted; the context may already be cancelled.
	saveCtx := context.WithoutCancel(ctx)

	if err := a.write(out, results); err != nil {
		return err
	}

	if a.cfg.Store != "" {
		if err := a.save(saveCtx, results); err != nil {
			return err
		}
	}

	return a.metrics.WriteFile(a.cfg.MetricsFile)
}

func (a *app) write(out io.Writer, results map[string]aggregate.Sweep) error {
	switch a.format {
	case formatMarkdown:
		if err := report.Generate(out, results); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	case formatJSON:
		if err := report.GenerateJSON(out, results); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	case formatBenchfmt:
		if err := report.WriteBenchfmt(out, report.DescribeMachine(), results); err != nil {
			return fmt.Errorf("generate benchfmt report: %w", err)
		}
	default:
		return fmt.Errorf("unknown format %q", a.format)
	}

	return nil
}

func (a *app) save(ctx context.Context, results map[string]aggregate.Sweep) error {
	db, err := store.Open(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	run := store.NewRun(report.DescribeMachine().Host, a.cfg.Trials, a.cfg.Average)
	if err := db.Save(ctx, run, results); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	a.logger.InfoContext(ctx, "run recorded",
		slog.String("run", run.ID),
		slog.String("store", a.cfg.Store),
	)

	return nil
}

func newMatrixCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "matrix",
		Short: "Print host details, allocator versions and sizes, and tool versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := report.CollectInventory(cmd.Context(), a.reg, a.toolchain, a.cfg.Parallel)
			if err != nil {
				return err
			}

			return report.GenerateInfo(cmd.OutOrStdout(), report.DescribeMachine(), inv)
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or print the results of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if a.cfg.Store == "" {
				return errors.New("history is disabled: no store configured")
			}

			db, err := store.Open(ctx, a.cfg.Store)
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 1 {
				_, results, err := db.Load(ctx, args[0])
				if err != nil {
					return err
				}

				return a.write(cmd.OutOrStdout(), results)
			}

			runs, err := db.List(ctx, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tHOST\tTRIALS\tPAIRS\tFAILED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.Host, r.Trials, r.Pairs, r.Failed)
			}

			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	return cmd
}
