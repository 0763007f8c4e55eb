package builder

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
)

// PrepareFunc bootstraps an in-place build before the build tool runs,
// e.g. autogen.sh followed by configure.
type PrepareFunc func(ctx context.Context, tc Toolchain, workdir string) error

// Make builds in place with make or ninja. Clean resets the checkout.
type Make struct {
	ID      string
	Workdir string
	// Lib is the artifact path relative to Workdir.
	Lib string
	// Tool is "make" or "ninja".
	Tool     string
	Targets  []string
	Args     []string
	Parallel int
	Prepare  PrepareFunc

	Toolchain
}

var _ Builder = (*Make)(nil)

// NewMake returns a make-based builder with one job per logical CPU.
func NewMake(name, workdir, lib string, prepare PrepareFunc) *Make {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		abs = workdir
	}

	return &Make{
		ID:       name,
		Workdir:  abs,
		Lib:      lib,
		Tool:     "make",
		Parallel: DefaultParallel(),
		Prepare:  prepare,
	}
}

// Name returns the registry name.
func (m *Make) Name() string {
	return m.ID
}

// Library returns <workdir>/<lib>.
func (m *Make) Library() string {
	return filepath.Join(m.Workdir, m.Lib)
}

// Build runs the preparation hook, then the build tool. Failures are
// logged and the nominal path is returned.
func (m *Make) Build(ctx context.Context) (string, error) {
	lib := m.Library()
	logger := m.logger().With(slog.String("builder", m.ID))

	if m.Prepare != nil {
		logger.InfoContext(ctx, "preparing", slog.String("dir", m.Workdir))

		if err := m.Prepare(ctx, m.Toolchain, m.Workdir); err != nil {
			logger.WarnContext(ctx, "prepare failed", slog.String("error", err.Error()))

			return lib, nil
		}
	}

	tool := m.Tool
	if tool == "" {
		tool = "make"
	}

	parallel := m.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel()
	}

	args := append([]string{"-j", strconv.Itoa(parallel)}, m.Args...)
	args = append(args, m.Targets...)

	logger.InfoContext(ctx, "building", slog.String("tool", tool), slog.Int("parallel", parallel))

	if err := m.run(ctx, m.Workdir, tool, args...); err != nil {
		logger.WarnContext(ctx, "build failed", slog.String("error", err.Error()))

		return lib, nil
	}

	logger.InfoContext(ctx, "built", slog.String("library", lib))

	return lib, nil
}

// Clean discards local modifications and untracked build products.
func (m *Make) Clean(ctx context.Context) error {
	if err := m.run(ctx, m.Workdir, "git", "reset", "--hard"); err != nil {
		return fmt.Errorf("clean %s: %w", m.ID, err)
	}

	if err := m.run(ctx, m.Workdir, "git", "clean", "-fdx"); err != nil {
		return fmt.Errorf("clean %s: %w", m.ID, err)
	}

	return nil
}

// Version returns the checked-out revision.
func (m *Make) Version(ctx context.Context) (string, error) {
	return m.gitRevision(ctx, m.Workdir)
}

// Size returns the size of the built library.
func (m *Make) Size() (int64, error) {
	return fileSize(m.Library())
}

// Script runs an executable shipped in the source tree, e.g. ./autogen.sh.
func Script(path string, args ...string) PrepareFunc {
	return func(ctx context.Context, tc Toolchain, workdir string) error {
		return tc.run(ctx, workdir, filepath.Join(workdir, path), args...)
	}
}

// Command runs an arbitrary tool in the source tree.
func Command(name string, args ...string) PrepareFunc {
	return func(ctx context.Context, tc Toolchain, workdir string) error {
		return tc.run(ctx, workdir, name, args...)
	}
}

// Configure runs ./configure with args.
func Configure(args ...string) PrepareFunc {
	return Script("configure", args...)
}

// Autogen runs ./autogen.sh and then ./configure with args.
func Autogen(args ...string) PrepareFunc {
	return Chain(Script("autogen.sh"), Configure(args...))
}

// Chain runs hooks in order, stopping at the first failure.
func Chain(hooks ...PrepareFunc) PrepareFunc {
	return func(ctx context.Context, tc Toolchain, workdir string) error {
		for _, h := range hooks {
			if err := h(ctx, tc, workdir); err != nil {
				return err
			}
		}

		return nil
	}
}
