package report

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/weiihann/allocbench/bencher"
	"github.com/weiihann/allocbench/builder"
	"github.com/weiihann/allocbench/registry"
)

// Machine describes the host results were measured on.
type Machine struct {
	Host   string
	Kernel string
	// OSVersion is the kernel build string, e.g. "#1 SMP PREEMPT_DYNAMIC ...".
	OSVersion string
	CPUModel  string
	CPUs      int
}

// DescribeMachine inspects the running host. Fields it cannot read are
// left empty.
func DescribeMachine() Machine {
	m := Machine{CPUs: runtime.NumCPU()}

	var u unix.Utsname
	if err := unix.Uname(&u); err == nil {
		m.Host = unix.ByteSliceToString(u.Nodename[:])
		m.Kernel = unix.ByteSliceToString(u.Sysname[:]) + " " + unix.ByteSliceToString(u.Release[:])
		m.OSVersion = unix.ByteSliceToString(u.Version[:])
	}

	if f, err := os.Open("/proc/cpuinfo"); err == nil {
		m.CPUModel = cpuModel(f)
		f.Close()
	}

	return m
}

// cpuModel returns the first "model name" entry of a cpuinfo listing.
func cpuModel(r io.Reader) string {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if ok && strings.TrimSpace(key) == "model name" {
			return strings.TrimSpace(value)
		}
	}

	return ""
}

// Allocator is one row of the information matrix.
type Allocator struct {
	Name    string
	Version string
	// Size is the artifact size in bytes, 0 when not built.
	Size int64
	// Err describes why version or size are missing.
	Err string
}

// Tool is one third-party program a workload launches.
type Tool struct {
	Program string
	// Launch is the command line the workload starts it with.
	Launch  string
	Version string
	Err     string
}

// Inventory is everything the information matrix lists besides the host.
type Inventory struct {
	Allocators []Allocator
	Tools      []Tool
}

// CollectInventory queries every builder's version and artifact size and
// the version of every external program the workloads launch. Nothing is
// measured meanwhile, so up to limit queries run at once. Failures are
// recorded per row and never abort the collection.
func CollectInventory(ctx context.Context, reg *registry.Registry, tc builder.Toolchain, limit int) (Inventory, error) {
	names := reg.Builders.Names()
	tools := workloadTools(reg)

	inv := Inventory{
		Allocators: make([]Allocator, len(names)),
		Tools:      make([]Tool, len(tools)),
	}

	g, gCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, name := range names {
		b, err := reg.Builders.Get(name)
		if err != nil {
			return Inventory{}, err
		}

		g.Go(func() error {
			inv.Allocators[i] = describe(gCtx, b)

			return gCtx.Err()
		})
	}

	for i, tool := range tools {
		g.Go(func() error {
			inv.Tools[i] = describeTool(gCtx, tc, tool)

			return gCtx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return Inventory{}, fmt.Errorf("collect inventory: %w", err)
	}

	return inv, nil
}

// workloadTools lists the distinct tools of all registered workloads in
// registry order.
func workloadTools(reg *registry.Registry) []bencher.Tool {
	var tools []bencher.Tool

	seen := make(map[string]bool)
	for _, name := range reg.Workloads.Names() {
		w, err := reg.Workloads.Get(name)
		if err != nil {
			continue
		}

		tooled, ok := w.(interface{ Tools() []bencher.Tool })
		if !ok {
			continue
		}

		for _, t := range tooled.Tools() {
			key := commandLine(t.Launch)
			if seen[key] {
				continue
			}
			seen[key] = true
			tools = append(tools, t)
		}
	}

	return tools
}

func describeTool(ctx context.Context, tc builder.Toolchain, t bencher.Tool) Tool {
	row := Tool{Launch: commandLine(t.Launch)}
	if len(t.Launch) > 0 {
		row.Program = t.Launch[0]
	}

	version, err := tc.VersionOf(ctx, t.Version)
	if err != nil {
		row.Err = err.Error()
	}
	row.Version = version

	return row
}

// commandLine joins argv for display, quoting empty arguments.
func commandLine(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" {
			a = `""`
		}
		parts[i] = a
	}

	return strings.Join(parts, " ")
}

func describe(ctx context.Context, b builder.Builder) Allocator {
	row := Allocator{Name: b.Name()}

	var errs []string

	version, err := b.Version(ctx)
	if err != nil {
		errs = append(errs, "version: "+err.Error())
	}
	row.Version = version

	if b.Library() != "" {
		size, err := b.Size()
		if err != nil {
			errs = append(errs, "size: "+err.Error())
		}
		row.Size = size
	}

	row.Err = strings.Join(errs, "; ")

	return row
}

// GenerateInfo writes the information matrix: host details, one row per
// allocator and one row per external program.
func GenerateInfo(w io.Writer, m Machine, inv Inventory) error {
	fmt.Fprintln(w, "## Information")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "- Host: %s\n", orDash(m.Host))
	fmt.Fprintf(w, "- Kernel: %s\n", orDash(m.Kernel))
	fmt.Fprintf(w, "- OS version: %s\n", orDash(m.OSVersion))
	fmt.Fprintf(w, "- CPU: %s\n", orDash(m.CPUModel))
	fmt.Fprintf(w, "- Logical CPUs: %d\n", m.CPUs)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Allocator | Version | Size |")
	fmt.Fprintln(w, "|-----------|---------|------|")

	for _, r := range inv.Allocators {
		size := "-"
		if r.Size > 0 {
			size = formatBytes(r.Size)
		}

		version := orDash(r.Version)
		if r.Err != "" && r.Version == "" {
			version = "unavailable"
		}

		fmt.Fprintf(w, "| %s | %s | %s |\n", r.Name, version, size)
	}

	if len(inv.Tools) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Program | Launched as | Version |")
	fmt.Fprintln(w, "|---------|-------------|---------|")

	for _, t := range inv.Tools {
		version := orDash(t.Version)
		if t.Err != "" && t.Version == "" {
			version = "unavailable"
		}

		fmt.Fprintf(w, "| %s | `%s` | %s |\n", t.Program, t.Launch, version)
	}

	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func formatBytes(b int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
