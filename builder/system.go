package builder

import (
	"context"
)

// System stands for an allocator that is already installed, such as the
// C library's own malloc. Building and cleaning do nothing.
type System struct {
	ID string
	// Path is the library to preload. Empty means no preload at all.
	Path string
	// VersionCmd prints the installed version, e.g. "ldd --version".
	VersionCmd []string

	Toolchain
}

var _ Builder = (*System)(nil)

// NewGlibc returns the pass-through builder for the system C library.
func NewGlibc() *System {
	return &System{
		ID:         "system",
		VersionCmd: []string{"ldd", "--version"},
	}
}

// Name returns the registry name.
func (s *System) Name() string {
	return s.ID
}

// Build returns the configured path.
func (s *System) Build(context.Context) (string, error) {
	return s.Path, nil
}

// Clean does nothing.
func (s *System) Clean(context.Context) error {
	return nil
}

// Library returns the configured path.
func (s *System) Library() string {
	return s.Path
}

// Version returns the first line of the version command's output.
func (s *System) Version(ctx context.Context) (string, error) {
	return s.VersionOf(ctx, s.VersionCmd)
}

// Size returns the size of the preloaded library, or 0 without one.
func (s *System) Size() (int64, error) {
	if s.Path == "" {
		return 0, nil
	}

	return fileSize(s.Path)
}
