// Package registry holds the catalogues of allocator builders and benchmark
// workloads, addressed by short symbolic names.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/weiihann/allocbench/bencher"
	"github.com/weiihann/allocbench/builder"
)

// ErrUnknown is returned for names missing from a table.
var ErrUnknown = errors.New("unknown name")

// Table is an insertion-ordered name to value mapping.
type Table[T any] struct {
	kind  string
	names []string
	items map[string]T
}

// NewTable returns an empty table. kind labels errors, e.g. "allocator".
func NewTable[T any](kind string) *Table[T] {
	return &Table[T]{kind: kind, items: make(map[string]T)}
}

// Add registers v under name. Re-adding a name replaces the value but
// keeps its position.
func (t *Table[T]) Add(name string, v T) {
	if _, ok := t.items[name]; !ok {
		t.names = append(t.names, name)
	}
	t.items[name] = v
}

// Get looks up name.
func (t *Table[T]) Get(name string) (T, error) {
	v, ok := t.items[name]
	if !ok {
		var zero T

		return zero, fmt.Errorf("%w: %s %q", ErrUnknown, t.kind, name)
	}

	return v, nil
}

// Names returns the registered names in insertion order.
func (t *Table[T]) Names() []string {
	return append([]string(nil), t.names...)
}

// Len returns the number of entries.
func (t *Table[T]) Len() int {
	return len(t.names)
}

// Each calls fn for every entry in insertion order.
func (t *Table[T]) Each(fn func(name string, v T)) {
	for _, name := range t.names {
		fn(name, t.items[name])
	}
}

// Registry is the pair of catalogues the harness iterates over. It is
// built once at startup and passed explicitly.
type Registry struct {
	Builders  *Table[builder.Builder]
	Workloads *Table[bencher.Workload]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		Builders:  NewTable[builder.Builder]("allocator"),
		Workloads: NewTable[bencher.Workload]("benchmark"),
	}
}

// AddBuilder registers b under its own name.
func (r *Registry) AddBuilder(b builder.Builder) {
	r.Builders.Add(b.Name(), b)
}

// AddWorkload registers w under its own name.
func (r *Registry) AddWorkload(w bencher.Workload) {
	r.Workloads.Add(w.Name(), w)
}

// Paths locates allocator sources and benchmark programs.
type Paths struct {
	// SourceRoot contains one checkout per allocator.
	SourceRoot string
	Parallel   int
	Toolchain  builder.Toolchain
	Bench      bencher.Options
}

// Default builds the standard catalogues.
func Default(p Paths) *Registry {
	r := New()

	for _, b := range DefaultBuilders(p) {
		r.AddBuilder(b)
	}

	for _, w := range bencher.Catalogue(p.Bench) {
		r.AddWorkload(w)
	}

	return r
}

// DefaultBuilders returns the standard allocator builders.
func DefaultBuilders(p Paths) []builder.Builder {
	src := func(name string) string {
		return filepath.Join(p.SourceRoot, name)
	}

	cmake := func(name, dir, target, lib string, options ...string) *builder.CMake {
		c := builder.NewCMake(name, src(dir), target, lib)
		c.Options = append(c.Options, options...)
		c.Toolchain = p.Toolchain
		if p.Parallel > 0 {
			c.Parallel = p.Parallel
		}

		return c
	}

	inPlace := func(name, dir, lib string, prepare builder.PrepareFunc) *builder.Make {
		m := builder.NewMake(name, src(dir), lib, prepare)
		m.Toolchain = p.Toolchain
		if p.Parallel > 0 {
			m.Parallel = p.Parallel
		}

		return m
	}

	jemalloc := inPlace("jemalloc", "jemalloc", "lib/libjemalloc.so",
		builder.Autogen("--enable-doc=no", "--enable-static=no", "--disable-stats"))

	tcmalloc := inPlace("tcmalloc", "gperftools", ".libs/libtcmalloc_minimal.so",
		builder.Autogen("--enable-minimal", "--disable-debugalloc"))

	rpmalloc := inPlace("rpmalloc", "rpmalloc", "bin/linux/release/x86-64/librpmallocwrap.so",
		builder.Command("python3", "configure.py", "-c", "release", "-a", "x86-64"))
	rpmalloc.Tool = "ninja"

	hoard := inPlace("hoard", "Hoard/src", "libhoard.so", nil)
	hoard.Targets = []string{"Linux-gcc-x86_64"}

	glibc := builder.NewGlibc()
	glibc.Toolchain = p.Toolchain

	return []builder.Builder{
		cmake("snmalloc", "snmalloc", "snmallocshim", "libsnmallocshim.so"),
		cmake("snmalloc-1mib", "snmalloc", "snmallocshim-1mib", "libsnmallocshim-1mib.so"),
		cmake("mimalloc", "mimalloc", "mimalloc", "libmimalloc.so"),
		cmake("mimalloc-secure", "mimalloc", "mimalloc", "libmimalloc-secure.so", "-DMI_SECURE=4"),
		jemalloc,
		tcmalloc,
		rpmalloc,
		hoard,
		glibc,
	}
}

// CMakeEntry declares an extra CMake builder, typically from config.
type CMakeEntry struct {
	Name      string   `mapstructure:"name"`
	Workdir   string   `mapstructure:"workdir"`
	Target    string   `mapstructure:"target"`
	Lib       string   `mapstructure:"lib"`
	Options   []string `mapstructure:"options"`
	Generator string   `mapstructure:"generator"`
}

// Extend adds CMake builders declared outside the code. Relative workdirs
// resolve against p.SourceRoot.
func (r *Registry) Extend(p Paths, entries []CMakeEntry) error {
	for _, e := range entries {
		if e.Name == "" || e.Workdir == "" || e.Target == "" || e.Lib == "" {
			return fmt.Errorf("builder entry %q: name, workdir, target and lib are required", e.Name)
		}

		dir := e.Workdir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(p.SourceRoot, dir)
		}

		c := builder.NewCMake(e.Name, dir, e.Target, e.Lib)
		if len(e.Options) > 0 {
			c.Options = e.Options
		}
		c.Generator = e.Generator
		c.Toolchain = p.Toolchain
		if p.Parallel > 0 {
			c.Parallel = p.Parallel
		}

		r.AddBuilder(c)
	}

	return nil
}
