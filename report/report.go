// Package report formats benchmark results into comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"golang.org/x/perf/benchmath"
	"golang.org/x/perf/benchunit"

	"github.com/weiihann/allocbench/aggregate"
	"github.com/weiihann/allocbench/bencher"
)

// Confidence is the level of the intervals printed next to means.
const Confidence = 0.95

// Generate writes one markdown table per benchmark, keyed by benchmark
// then allocator.
func Generate(w io.Writer, results map[string]aggregate.Sweep) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}

	fmt.Fprintln(w, "## Benchmark Results")

	for _, name := range sortedKeys(results) {
		fmt.Fprintln(w)

		if err := GenerateWorkload(w, name, results[name]); err != nil {
			return err
		}
	}

	return nil
}

// GenerateWorkload writes the table for one benchmark.
func GenerateWorkload(w io.Writer, name string, sweep aggregate.Sweep) error {
	fmt.Fprintf(w, "### %s\n\n", name)

	attrs := attributes(sweep)
	if attrs == nil {
		fmt.Fprintln(w, "All allocators failed.")

		return nil
	}

	fastest := findFastest(sweep)

	// Table header.
	header := []string{"Allocator"}
	rule := []string{"---------"}
	for _, attr := range attrs {
		header = append(header, attr)
		rule = append(rule, strings.Repeat("-", len(attr)))
	}
	header = append(header, "Slowdown")
	rule = append(rule, "--------")

	fmt.Fprintln(w, "| "+strings.Join(header, " | ")+" |")
	fmt.Fprintln(w, "|"+strings.Join(rule, "|")+"|")

	for _, target := range sortedKeys(sweep) {
		s := sweep[target]

		row := []string{target}
		if s == nil {
			for range attrs {
				row = append(row, "-")
			}
			row = append(row, "failed")
			fmt.Fprintln(w, "| "+strings.Join(row, " | ")+" |")

			continue
		}

		for _, attr := range attrs {
			row = append(row, cell(s, attr))
		}

		slowdown := "-"
		if elapsed, err := s.Mean(bencher.TimeElapsed); err == nil && fastest > 0 {
			slowdown = fmt.Sprintf("%.2fx", elapsed/fastest)
		}
		row = append(row, slowdown)

		fmt.Fprintln(w, "| "+strings.Join(row, " | ")+" |")
	}

	return nil
}

// GenerateJSON writes results as JSON to w. Failed pairs encode as null.
func GenerateJSON(w io.Writer, results any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(results)
}

// cell formats the mean of attr with its confidence interval when there
// are enough trials to compute one.
func cell(s *aggregate.Series, attr string) string {
	mean, err := s.Mean(attr)
	if err != nil {
		return "-"
	}

	out := format(attr, mean)

	values := s.Values[attr]
	if len(values) < 2 {
		return out
	}

	sample := benchmath.NewSample(append([]float64(nil), values...), &benchmath.DefaultThresholds)
	summary := benchmath.AssumeNormal.Summary(sample, Confidence)

	return out + " ± " + summary.PctRangeString()
}

func format(attr string, v float64) string {
	switch attr {
	case bencher.MemPeak:
		return benchunit.Scale(v, benchunit.Binary) + "B"
	case bencher.TimeElapsed, bencher.RTime:
		return formatSeconds(v)
	case bencher.ThreadCount:
		return fmt.Sprintf("%.0f", v)
	default:
		return benchunit.Scale(v, benchunit.Decimal)
	}
}

// attributes returns the attribute order of the first successful pair.
func attributes(sweep aggregate.Sweep) []string {
	for _, target := range sortedKeys(sweep) {
		if s := sweep[target]; s != nil {
			return s.Attributes
		}
	}

	return nil
}

func findFastest(sweep aggregate.Sweep) float64 {
	fastest := math.Inf(1)
	for _, s := range sweep {
		if s == nil {
			continue
		}

		elapsed, err := s.Mean(bencher.TimeElapsed)
		if err == nil && elapsed > 0 && elapsed < fastest {
			fastest = elapsed
		}
	}

	if math.IsInf(fastest, 1) {
		return 0
	}

	return fastest
}

func formatSeconds(s float64) string {
	if s < 1 {
		return fmt.Sprintf("%.0fms", s*1000)
	}

	return fmt.Sprintf("%.2fs", s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
