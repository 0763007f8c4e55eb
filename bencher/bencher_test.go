package bencher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/allocbench/internal/fakeexec"
	"github.com/weiihann/allocbench/process"
)

func newRunner(t *testing.T) *process.Runner {
	t.Helper()

	return &process.Runner{
		TimeCommand: fakeexec.TimeWrapper(t, fakeexec.DefaultRecord),
		Logger:      slog.New(slog.DiscardHandler),
	}
}

func TestAttributesOrder(t *testing.T) {
	spec := &Spec{ID: "x", Extra: []string{OpPerSec, RTime}}

	assert.Equal(t,
		[]string{MemPeak, TimeElapsed, PageFault, OpPerSec, RTime},
		spec.Attributes())
}

func TestRunPopulatesEveryAttribute(t *testing.T) {
	bin := fakeexec.Script(t, t.TempDir(), "bench",
		`echo "warming up"; echo "... throughput: 12345.0 ops/sec"`)

	spec := &Spec{
		ID:    "throughput",
		Exec:  bin,
		Extra: []string{OpPerSec},
		Parse: func(out *process.Output, values map[string]float64) error {
			v, err := ValueAfter(out.Stdout, "throughput:")
			if err != nil {
				return err
			}
			values[OpPerSec] = v

			return nil
		},
	}

	b := spec.Bind("/lib/libfoo.so", newRunner(t))
	require.NoError(t, b.Run(context.Background()))

	for _, name := range b.Attributes() {
		_, err := b.Attribute(name)
		assert.NoError(t, err, name)
	}

	ops, err := b.Attribute(OpPerSec)
	require.NoError(t, err)
	assert.Equal(t, 12345.0, ops)

	mem, err := b.Attribute(MemPeak)
	require.NoError(t, err)
	assert.Equal(t, float64(2048*1024), mem)

	elapsed, err := b.Attribute(TimeElapsed)
	require.NoError(t, err)
	assert.Equal(t, 0.25, elapsed)

	faults, err := b.Attribute(PageFault)
	require.NoError(t, err)
	assert.Equal(t, 12.0, faults)
}

func TestRunReflectsOnlyLatest(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	bin := fakeexec.Script(t, dir, "bench", fmt.Sprintf(`n=$(cat %[1]q 2>/dev/null || echo 0)
n=$((n+1))
echo $n > %[1]q
echo "took $n seconds"`, counter))

	spec := &Spec{ID: "self-timed", Exec: bin, Extra: []string{RTime}, Parse: parseSelfTimed}
	b := spec.Bind("", newRunner(t))

	for want := 1; want <= 3; want++ {
		require.NoError(t, b.Run(context.Background()))

		got, err := b.Attribute(RTime)
		require.NoError(t, err)
		assert.Equal(t, float64(want), got)
	}
}

func TestRunFailureClearsAttributes(t *testing.T) {
	dir := t.TempDir()
	flag := filepath.Join(dir, "fail")
	bin := fakeexec.Script(t, dir, "bench", fmt.Sprintf(`if [ -f %q ]; then echo boom >&2; exit 4; fi
echo ok`, flag))

	spec := &Spec{ID: "flaky", Exec: bin}
	b := spec.Bind("", newRunner(t))

	_, err := b.Attribute(MemPeak)
	require.ErrorIs(t, err, ErrNoResult)

	require.NoError(t, b.Run(context.Background()))
	_, err = b.Attribute(MemPeak)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(flag, nil, 0o644))

	err = b.Run(context.Background())
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, exitErr.Code)
	assert.Equal(t, "boom\n", exitErr.Stderr)

	_, err = b.Attribute(MemPeak)
	require.ErrorIs(t, err, ErrNoResult)

	rec := b.Record()
	require.NotNil(t, rec)
	assert.Equal(t, 4, rec.ExitCode)
	assert.Equal(t, "boom\n", rec.Stderr)
	assert.Nil(t, rec.Values)
}

func TestRunMissingAttribute(t *testing.T) {
	bin := fakeexec.Script(t, t.TempDir(), "bench", `echo nothing useful`)

	spec := &Spec{
		ID:    "silent",
		Exec:  bin,
		Extra: []string{OpPerSec},
		Parse: func(*process.Output, map[string]float64) error { return nil },
	}
	b := spec.Bind("", newRunner(t))

	require.ErrorIs(t, b.Run(context.Background()), ErrMissingAttribute)
}

func TestRunMalformedOutput(t *testing.T) {
	bin := fakeexec.Script(t, t.TempDir(), "bench", `echo "Throughput = lots"`)

	spec := &Spec{ID: "larson", Exec: bin, Extra: []string{OpPerSec, RTime, ThreadCount}, Parse: parseLarson(2)}
	b := spec.Bind("", newRunner(t))

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse output")
}

func TestUnknownAttribute(t *testing.T) {
	bin := fakeexec.Script(t, t.TempDir(), "bench", `true`)

	b := (&Spec{ID: "plain", Exec: bin}).Bind("", newRunner(t))
	require.NoError(t, b.Run(context.Background()))

	_, err := b.Attribute("nope")
	require.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestRunKeepsOutputWhenUsageMissing(t *testing.T) {
	bin := fakeexec.Script(t, t.TempDir(), "bench", `echo "segfault in malloc" >&2; exit 139`)
	runner := &process.Runner{
		TimeCommand: fakeexec.BrokenTimeWrapper(t),
		Logger:      slog.New(slog.DiscardHandler),
	}

	b := (&Spec{ID: "crash", Exec: bin}).Bind("", runner)
	err := b.Run(context.Background())
	require.ErrorIs(t, err, process.ErrUsage)

	rec := b.Record()
	require.NotNil(t, rec)
	assert.Equal(t, 139, rec.ExitCode)
	assert.Contains(t, rec.Stderr, "segfault in malloc")
	assert.Nil(t, rec.Values)

	_, err = b.Attribute(MemPeak)
	require.ErrorIs(t, err, ErrNoResult)
}

func TestRunPassesPreload(t *testing.T) {
	bin := fakeexec.Script(t, t.TempDir(), "bench", `echo "$LD_PRELOAD"`)

	b := (&Spec{ID: "env", Exec: bin}).Bind("/opt/libmimalloc.so", newRunner(t))
	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, "/opt/libmimalloc.so\n", b.Record().Stdout)
}

func TestServerLifecycle(t *testing.T) {
	dir := t.TempDir()
	stop := filepath.Join(dir, "stop")
	server := fakeexec.Script(t, dir, "server",
		`while [ ! -f "$1" ]; do sleep 0.05; done; echo bye`)
	client := fakeexec.Script(t, dir, "client",
		`echo "LPUSH: 900.00 requests per second"; echo "LRANGE_10: 1500.25 requests per second"`)

	spec := &Spec{
		ID:    "redis-like",
		Exec:  client,
		Extra: []string{ReqPerSec},
		Parse: parseRedis,
		Server: &Server{
			Exec:          server,
			Args:          []string{stop},
			Shutdown:      []string{"touch", stop},
			StartupGrace:  100 * time.Millisecond,
			TeardownGrace: 10 * time.Second,
		},
	}

	b := spec.Bind("", newRunner(t))
	require.NoError(t, b.Run(context.Background()))

	rps, err := b.Attribute(ReqPerSec)
	require.NoError(t, err)
	assert.Equal(t, 1500.25, rps)

	mem, err := b.Attribute(MemPeak)
	require.NoError(t, err)
	assert.Equal(t, float64(2048*1024), mem)
}

func TestServerKilledWhenClientFails(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pids")

	// The wrapper records its own pid and skips the usage record for the
	// broken client, which makes the client run fail.
	body := `echo $$ >> "$PIDFILE"
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -f) shift 2 ;;
    -o) out="$2"; shift 2 ;;
    *) break ;;
  esac
done
"$@"
code=$?
case "$1" in *broken*) exit $code ;; esac
echo "1 0.1 10" > "$out"
exit $code`
	runner := &process.Runner{
		TimeCommand: []string{fakeexec.Script(t, dir, "time", body)},
		Logger:      slog.New(slog.DiscardHandler),
	}
	client := fakeexec.Script(t, dir, "broken-client", `echo partial`)

	spec := &Spec{
		ID:   "server-crash",
		Exec: client,
		Env:  map[string]string{"PIDFILE": pidFile},
		Server: &Server{
			Exec:          "sleep",
			Args:          []string{"30"},
			StartupGrace:  100 * time.Millisecond,
			TeardownGrace: time.Second,
		},
	}

	b := spec.Bind("", runner)
	err := b.Run(context.Background())
	require.ErrorIs(t, err, process.ErrUsage)

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)

	lines := strings.Fields(string(data))
	require.NotEmpty(t, lines)

	serverPid, err := strconv.Atoi(lines[0])
	require.NoError(t, err)
	assert.False(t, process.Alive(serverPid), "server wrapper still running")

	_, err = b.Attribute(MemPeak)
	require.ErrorIs(t, err, ErrNoResult)

	rec := b.Record()
	require.NotNil(t, rec)
	assert.Equal(t, "partial\n", rec.Stdout)
	assert.Nil(t, rec.Values)
}

func TestServerExitsDuringStartup(t *testing.T) {
	dir := t.TempDir()
	server := fakeexec.Script(t, dir, "server", `echo "port in use" >&2; exit 1`)
	client := fakeexec.Script(t, dir, "client", `echo never`)

	spec := &Spec{
		ID:   "dead-server",
		Exec: client,
		Server: &Server{
			Exec:         server,
			StartupGrace: 2 * time.Second,
		},
	}

	err := spec.Bind("", newRunner(t)).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited during startup")
	assert.Contains(t, err.Error(), "port in use")
}
