// Package fakeexec writes small shell scripts standing in for external
// tools (GNU time, cmake, benchmark binaries) in tests.
package fakeexec

import (
	"os"
	"path/filepath"
	"testing"
)

// DefaultRecord is the usage line written by TimeWrapper when no record
// is supplied: 12 page faults, 0.25 seconds, 2048 KiB peak.
const DefaultRecord = "12 0.25 2048"

// Script writes an executable sh script named name into dir.
func Script(t testing.TB, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + body + "\n"

	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write script %s: %v", path, err)
	}

	return path
}

// TimeWrapper writes a stand-in for GNU time. It accepts -f FORMAT and
// -o FILE, runs the rest of its arguments and then writes record to the
// output file, preserving the child's exit code.
func TimeWrapper(t testing.TB, record string) []string {
	t.Helper()

	body := `out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -f) shift 2 ;;
    -o) out="$2"; shift 2 ;;
    *) break ;;
  esac
done
"$@"
code=$?
printf '%s\n' "` + record + `" > "$out"
exit $code`

	return []string{Script(t, t.TempDir(), "time", body)}
}

// BrokenTimeWrapper runs the command but never writes a usage record.
func BrokenTimeWrapper(t testing.TB) []string {
	t.Helper()

	body := `while [ $# -gt 0 ]; do
  case "$1" in
    -f|-o) shift 2 ;;
    *) break ;;
  esac
done
exec "$@"`

	return []string{Script(t, t.TempDir(), "time", body)}
}
