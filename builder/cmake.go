package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultCMakeOptions configures a release build.
var DefaultCMakeOptions = []string{"-DCMAKE_BUILD_TYPE=Release"}

// CMake builds one target of a CMake project into a disposable directory
// named after the builder, so several configurations of one checkout can
// coexist.
type CMake struct {
	ID      string
	Workdir string
	Target  string
	// Lib is the artifact path relative to the build directory.
	Lib       string
	Options   []string
	Generator string
	Parallel  int
	// Tool is the cmake executable.
	Tool string

	Toolchain
}

var _ Builder = (*CMake)(nil)

// NewCMake returns a CMake builder with release options and one job per
// logical CPU. workdir is made absolute.
func NewCMake(name, workdir, target, lib string) *CMake {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		abs = workdir
	}

	return &CMake{
		ID:       name,
		Workdir:  abs,
		Target:   target,
		Lib:      lib,
		Options:  append([]string(nil), DefaultCMakeOptions...),
		Parallel: DefaultParallel(),
		Tool:     "cmake",
	}
}

// Name returns the registry name.
func (c *CMake) Name() string {
	return c.ID
}

// BuildDir is <workdir>/bench_build_<name>.
func (c *CMake) BuildDir() string {
	return filepath.Join(c.Workdir, "bench_build_"+c.ID)
}

// Library returns <build dir>/<lib>.
func (c *CMake) Library() string {
	return filepath.Join(c.BuildDir(), c.Lib)
}

// Build configures and builds the target. On a failing step the build
// directory is removed and the nominal path is still returned. An existing
// build directory counts as already built.
func (c *CMake) Build(ctx context.Context) (string, error) {
	dir := c.BuildDir()
	lib := c.Library()
	logger := c.logger().With(slog.String("builder", c.ID))

	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			logger.InfoContext(ctx, "build directory exists, treating as built",
				slog.String("dir", dir))

			return lib, nil
		}

		return lib, fmt.Errorf("create build dir: %w", err)
	}

	logger.InfoContext(ctx, "configuring", slog.String("dir", dir))

	if err := c.run(ctx, dir, c.tool(), c.configureArgs()...); err != nil {
		logger.WarnContext(ctx, "configure failed", slog.String("error", err.Error()))

		return lib, c.Clean(ctx)
	}

	logger.InfoContext(ctx, "building",
		slog.String("target", c.Target),
		slog.Int("parallel", c.parallel()),
	)

	if err := c.run(ctx, dir, c.tool(), c.buildArgs()...); err != nil {
		logger.WarnContext(ctx, "build failed", slog.String("error", err.Error()))

		return lib, c.Clean(ctx)
	}

	logger.InfoContext(ctx, "built", slog.String("library", lib))

	return lib, nil
}

// Clean removes the build directory.
func (c *CMake) Clean(_ context.Context) error {
	if err := os.RemoveAll(c.BuildDir()); err != nil {
		return fmt.Errorf("clean %s: %w", c.ID, err)
	}

	return nil
}

// Version returns the checked-out revision of the source tree.
func (c *CMake) Version(ctx context.Context) (string, error) {
	return c.gitRevision(ctx, c.Workdir)
}

// Size returns the size of the built library.
func (c *CMake) Size() (int64, error) {
	return fileSize(c.Library())
}

func (c *CMake) configureArgs() []string {
	args := append([]string{".."}, c.Options...)
	if c.Generator != "" {
		args = append(args, "-G", c.Generator)
	}

	return args
}

func (c *CMake) buildArgs() []string {
	return []string{
		"--build", ".",
		"--target", c.Target,
		"--parallel", strconv.Itoa(c.parallel()),
	}
}

func (c *CMake) tool() string {
	if c.Tool == "" {
		return "cmake"
	}

	return c.Tool
}

func (c *CMake) parallel() int {
	if c.Parallel <= 0 {
		return DefaultParallel()
	}

	return c.Parallel
}
