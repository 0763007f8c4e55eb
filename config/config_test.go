package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/allocbench/bencher"
	"github.com/weiihann/allocbench/builder"
	"github.com/weiihann/allocbench/process"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Trials)
	assert.True(t, cfg.Average)
	assert.False(t, cfg.Build)
	assert.Equal(t, builder.DefaultParallel(), cfg.Parallel)
	assert.Equal(t, process.DefaultTimeCommand, cfg.TimeCommand)
	assert.False(t, cfg.IsolatedEnv)
	assert.Equal(t, bencher.DefaultStartupGrace, cfg.Server.StartupGrace)
	assert.Equal(t, "benchmark", cfg.BenchOptions().BenchDir)
	assert.Empty(t, cfg.Builders)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	writeFile(t, dir, DefaultFile, `
source_root: /src
trials: 3
average: false
time_command: [/usr/bin/time]
isolated_env: true
server:
  startup_grace: 5s
builders:
  - name: allocA
    workdir: alloc-a
    target: shim
    lib: libshim.so
    options: [-DCMAKE_BUILD_TYPE=Debug]
`)
	writeFile(t, dir, ".env", "ALLOCBENCH_PARALLEL=7\n")
	t.Setenv("ALLOCBENCH_SERVER_TEARDOWN_GRACE", "250ms")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("trials", 1, "")
	flags.String("source-root", "", "")
	require.NoError(t, flags.Parse([]string{"--trials", "9"}))

	t.Cleanup(func() { os.Unsetenv("ALLOCBENCH_PARALLEL") })

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Trials)
	assert.Equal(t, "/src", cfg.SourceRoot)
	assert.False(t, cfg.Average)
	assert.Equal(t, 7, cfg.Parallel)
	assert.Equal(t, []string{"/usr/bin/time"}, cfg.TimeCommand)
	assert.True(t, cfg.IsolatedEnv)
	assert.Equal(t, 5*time.Second, cfg.Server.StartupGrace)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.TeardownGrace)

	require.Len(t, cfg.Builders, 1)
	assert.Equal(t, "allocA", cfg.Builders[0].Name)
	assert.Equal(t, []string{"-DCMAKE_BUILD_TYPE=Debug"}, cfg.Builders[0].Options)

	paths := cfg.Paths(builder.Toolchain{})
	assert.Equal(t, "/src", paths.SourceRoot)
	assert.Equal(t, 5*time.Second, paths.Bench.StartupGrace)
}

func TestLoadTimeCommandFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ALLOCBENCH_TIME_COMMAND", "/opt/gnu/bin/time --quiet")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/gnu/bin/time", "--quiet"}, cfg.TimeCommand)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "missing explicit file", file: filepath.Join(dir, "absent.yaml")},
		{name: "zero trials", file: "zero.yaml", body: "trials: 0\n"},
		{name: "negative grace", file: "neg.yaml", body: "server:\n  startup_grace: -1s\n"},
		{name: "malformed yaml", file: "bad.yaml", body: "trials: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.body != "" {
				writeFile(t, dir, tt.file, tt.body)
			}

			_, err := Load(tt.file, nil)
			require.Error(t, err)
		})
	}
}
