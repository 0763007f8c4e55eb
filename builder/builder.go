// Package builder turns third-party build systems into a uniform "produce
// a loadable library" contract with version and size introspection.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// ErrNotBuilt means the expected artifact is missing or empty.
var ErrNotBuilt = errors.New("library not built")

// Builder produces a shared library for one allocator candidate.
type Builder interface {
	Name() string
	// Build compiles the library and returns its absolute path. A failing
	// build tool is not an error: the nominal path is still returned and
	// callers check it with Verify.
	Build(ctx context.Context) (string, error)
	// Clean removes build products so the next Build starts fresh.
	Clean(ctx context.Context) error
	// Library returns the artifact path without building.
	Library() string
	// Version identifies the source revision or installed release.
	Version(ctx context.Context) (string, error)
	// Size returns the artifact size in bytes.
	Size() (int64, error)
}

// Verify checks that b's artifact exists and is not empty. A builder
// without a library path (the plain system allocator) always passes.
func Verify(b Builder) error {
	if b.Library() == "" {
		return nil
	}

	size, err := b.Size()
	if err != nil {
		return fmt.Errorf("%s: %w: %w", b.Name(), ErrNotBuilt, err)
	}

	if size == 0 {
		return fmt.Errorf("%s: %w: %s is empty", b.Name(), ErrNotBuilt, b.Library())
	}

	return nil
}

// DefaultParallel is the build parallelism hint when none is configured.
func DefaultParallel() int {
	return runtime.NumCPU()
}

// Toolchain runs build commands. The zero value logs to slog.Default and
// streams tool output to stderr.
type Toolchain struct {
	Logger *slog.Logger
	Output io.Writer
}

func (tc Toolchain) logger() *slog.Logger {
	if tc.Logger == nil {
		return slog.Default()
	}

	return tc.Logger
}

func (tc Toolchain) run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	out := tc.Output
	if out == nil {
		out = os.Stderr
	}
	cmd.Stdout = out
	cmd.Stderr = out

	tc.logger().DebugContext(ctx, "build step",
		slog.String("dir", dir),
		slog.String("cmd", name),
		slog.Any("args", args),
	)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}

	return nil
}

func (tc Toolchain) output(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(string(out)), nil
}

// VersionOf runs argv and returns the first line of its output. An empty
// argv reports "unknown".
func (tc Toolchain) VersionOf(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "unknown", nil
	}

	out, err := tc.output(ctx, "", argv[0], argv[1:]...)
	if err != nil {
		return "", err
	}

	first, _, _ := strings.Cut(out, "\n")

	return strings.TrimSpace(first), nil
}

// gitRevision returns the short hash of HEAD in dir.
func (tc Toolchain) gitRevision(ctx context.Context, dir string) (string, error) {
	return tc.output(ctx, dir, "git", "rev-parse", "--short", "HEAD")
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}
