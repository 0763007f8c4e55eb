package bencher

import (
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/weiihann/allocbench/process"
)

// Options locates the benchmark programs of the default catalogue.
type Options struct {
	// BenchDir holds the compiled benchmark suite (cfrac, rptest, ...).
	BenchDir string
	// SuiteDir is the mimalloc-bench checkout with workload inputs.
	SuiteDir string
	// AgdaDir is the agda-stdlib source directory.
	AgdaDir string
	// Threads is passed to multi-threaded workloads.
	Threads       int
	StartupGrace  time.Duration
	TeardownGrace time.Duration
}

// DefaultOptions mirrors the layout produced by the suite setup script.
func DefaultOptions() Options {
	return Options{
		BenchDir:      "benchmark",
		SuiteDir:      "mimalloc-bench",
		AgdaDir:       filepath.Join("agda-stdlib", "src"),
		Threads:       runtime.NumCPU(),
		StartupGrace:  DefaultStartupGrace,
		TeardownGrace: DefaultTeardownGrace,
	}
}

// Catalogue returns the built-in workloads in presentation order.
func Catalogue(opts Options) []*Spec {
	bench := func(name string) string {
		return filepath.Join(opts.BenchDir, name)
	}
	threads := strconv.Itoa(max(opts.Threads, 1))

	return []*Spec{
		{
			ID:   "cfrac",
			Exec: bench("cfrac"),
			Args: []string{"17545186520507317056371138836327483792789528"},
		},
		{
			ID:   "alloc-test",
			Exec: bench("alloc-test"),
			Args: []string{"16"},
		},
		{
			ID:   "alloc-test-large",
			Exec: bench("alloc-test"),
			Args: []string{"2048"},
		},
		{
			ID:      "z3",
			Exec:    "z3",
			Args:    []string{"-smt2", filepath.Join(opts.SuiteDir, "bench", "z3", "test1.smt2")},
			Version: []string{"z3", "--version"},
		},
		{
			ID:      "agda",
			Exec:    "agda",
			Args:    []string{"./IO.agda"},
			Dir:     opts.AgdaDir,
			Version: []string{"agda", "--version"},
		},
		{
			ID:    "rptest",
			Exec:  bench("rptest"),
			Args:  []string{"12", "0", "2", "2", "500", "1000", "200", "8", "64000"},
			Extra: []string{OpPerSec},
			Parse: parseRPTest,
		},
		{
			ID:    "larson",
			Exec:  bench("larson"),
			Args:  []string{"5", "8", "1000", "5000", "100", "4141", threads},
			Extra: []string{OpPerSec, RTime, ThreadCount},
			Parse: parseLarson(max(opts.Threads, 1)),
		},
		{
			ID:    "sh6bench",
			Exec:  bench("sh6bench"),
			Args:  []string{strconv.Itoa(2 * max(opts.Threads, 1))},
			Extra: []string{RTime},
			Parse: parseSelfTimed,
		},
		{
			ID:    "sh8bench",
			Exec:  bench("sh8bench"),
			Args:  []string{strconv.Itoa(2 * max(opts.Threads, 1))},
			Extra: []string{RTime},
			Parse: parseSelfTimed,
		},
		{
			ID:   "redis",
			Exec: "redis-benchmark",
			Args: []string{
				"-r", "1000000", "-n", "1000000", "-P", "8", "-q",
				"lpush", "a", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10",
				"lrange", "a", "1", "10",
			},
			Extra:  []string{ReqPerSec},
			Parse:  parseRedis,
			Server: redisServer(opts),
		},
		{
			ID:     "redis-set",
			Exec:   "redis-benchmark",
			Args:   []string{"-r", "1000000", "-n", "1000000", "-P", "16", "-q", "-t", "set,get"},
			Extra:  []string{ReqPerSec},
			Parse:  parseRedis,
			Server: redisServer(opts),
		},
	}
}

func redisServer(opts Options) *Server {
	return &Server{
		Exec:          "redis-server",
		Args:          []string{"--save", "", "--appendonly", "no"},
		ReadyAddr:     "127.0.0.1:6379",
		Shutdown:      []string{"redis-cli", "shutdown"},
		StartupGrace:  opts.StartupGrace,
		TeardownGrace: opts.TeardownGrace,
		Version:       []string{"redis-server", "--version"},
	}
}

// rptest ends with "... <ops> operations per second ..." followed by a
// fixed-size tail, so the throughput sits 13 tokens from the end.
func parseRPTest(out *process.Output, values map[string]float64) error {
	v, err := NumberFromEnd(out.Stdout, 13)
	if err != nil {
		return err
	}

	values[OpPerSec] = float64(int64(v))

	return nil
}

// larson prints
// "Throughput = 1234567 operations per second, relative time: 10.002s."
func parseLarson(threads int) ParseFunc {
	return func(out *process.Output, values map[string]float64) error {
		ops, err := ValueAfter(out.Stdout, "Throughput =")
		if err != nil {
			return err
		}

		rtime, err := ValueAfter(out.Stdout, "relative time:")
		if err != nil {
			return err
		}

		values[OpPerSec] = ops
		values[RTime] = rtime
		values[TimeElapsed] = rtime
		values[ThreadCount] = float64(threads)

		return nil
	}
}

// parseSelfTimed handles workloads that print their own run time in
// seconds. That figure excludes process startup, so it replaces the
// wrapper's elapsed time.
func parseSelfTimed(out *process.Output, values map[string]float64) error {
	rtime, err := ValueBefore(out.Stdout, "seconds")
	if err != nil {
		return err
	}

	values[RTime] = rtime
	values[TimeElapsed] = rtime

	return nil
}

// redis-benchmark -q prints one "<op>: <n> requests per second" line per
// command; the last one is reported.
func parseRedis(out *process.Output, values map[string]float64) error {
	v, err := ValueBefore(out.Stdout, "requests per second")
	if err != nil {
		return err
	}

	values[ReqPerSec] = v

	return nil
}
