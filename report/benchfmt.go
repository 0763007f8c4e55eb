package report

import (
	"fmt"
	"io"
	"runtime"

	"golang.org/x/perf/benchfmt"

	"github.com/weiihann/allocbench/aggregate"
	"github.com/weiihann/allocbench/bencher"
)

// units maps attributes to Go benchmark format units. Each trial becomes
// one result line so benchstat can compare allocators directly.
var units = map[string]string{
	bencher.MemPeak:     "peak-B",
	bencher.TimeElapsed: "sec",
	bencher.PageFault:   "faults",
	bencher.OpPerSec:    "ops/sec",
	bencher.ReqPerSec:   "reqs/sec",
	bencher.ThreadCount: "threads",
	bencher.RTime:       "rtime-sec",
}

func unitOf(attr string) string {
	if u, ok := units[attr]; ok {
		return u
	}

	return attr
}

// WriteBenchfmt writes every trial in the Go benchmark format. Names
// are <benchmark>/allocator=<name>. Failed pairs are skipped.
func WriteBenchfmt(w io.Writer, m Machine, results map[string]aggregate.Sweep) error {
	bw := benchfmt.NewWriter(w)
	config := m.config()

	for _, name := range sortedKeys(results) {
		sweep := results[name]

		for _, target := range sortedKeys(sweep) {
			s := sweep[target]
			if s == nil {
				continue
			}

			for trial := range s.Trials() {
				res := &benchfmt.Result{
					Config: config,
					Name:   benchfmt.Name(fmt.Sprintf("%s/allocator=%s", name, target)),
					Iters:  1,
				}

				for _, attr := range s.Attributes {
					values := s.Values[attr]
					if trial >= len(values) {
						continue
					}
					res.Values = append(res.Values, benchfmt.Value{Value: values[trial], Unit: unitOf(attr)})
				}

				if err := bw.Write(res); err != nil {
					return fmt.Errorf("write %s/%s: %w", name, target, err)
				}
			}
		}
	}

	return nil
}

func (m Machine) config() []benchfmt.Config {
	var cfg []benchfmt.Config
	add := func(key, value string) {
		if value != "" {
			cfg = append(cfg, benchfmt.Config{Key: key, Value: []byte(value), File: true})
		}
	}

	add("goos", runtime.GOOS)
	add("cpu", m.CPUModel)
	add("kernel", m.Kernel)
	add("host", m.Host)

	return cfg
}
